// Package smb stores objects on a pre-mounted SMB/CIFS share. The share
// must already be mounted on the host (mount.cifs or fstab); all I/O
// delegates to the local filesystem backend rooted at the mount point.
package smb

import (
	"fmt"

	"github.com/clipstash/clipstash/internal/storage/local"
)

// Config holds SMB backend settings. Server is kept for logs and admin
// reference; reads and writes go through MountPath.
type Config struct {
	Server    string
	MountPath string
}

// Backend wraps the local backend at the SMB mount point.
type Backend struct {
	*local.Backend
	server string
}

func New(cfg Config) (*Backend, error) {
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("mount path is required")
	}
	lb, err := local.New(local.Config{RootPath: cfg.MountPath})
	if err != nil {
		return nil, fmt.Errorf("smb backend at %s: %w", cfg.MountPath, err)
	}
	return &Backend{Backend: lb, server: cfg.Server}, nil
}

// Server returns the configured share path, e.g. //nas/clipstash.
func (b *Backend) Server() string { return b.server }

func (b *Backend) Type() string { return "smb" }
