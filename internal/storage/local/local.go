// Package local provides a local filesystem storage backend with an
// explicit multipart session arena.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/storage"
)

const (
	stagingDir      = ".multipart"
	sessionTTL      = 24 * time.Hour
	cleanupInterval = 15 * time.Minute
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string
}

// Backend implements storage.Adapter using the local filesystem.
// Multipart sessions are kept in memory with their part data staged under
// RootPath/.multipart/{uploadID}; a TTL reaper purges abandoned sessions.
type Backend struct {
	root string

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	prefix  string
	name    string
	dir     string
	parts   map[int]storage.Part
	created time.Time
}

// New creates a local filesystem backend rooted at cfg.RootPath.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
	}
	return &Backend{
		root:     cfg.RootPath,
		sessions: make(map[string]*session),
	}, nil
}

// fullPath maps a storage key to a filesystem path, refusing keys that
// would escape the root.
func (b *Backend) fullPath(key string) (string, error) {
	path := filepath.Join(b.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(b.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return path, nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Upload writes the object atomically via temp file + rename.
func (b *Backend) Upload(ctx context.Context, prefix, name string, length int64, body io.Reader) (*storage.UploadResult, error) {
	if length <= 0 || body == nil {
		return nil, storage.ErrInvalidData
	}

	start := time.Now()
	key := joinKey(prefix, name)
	path, err := b.fullPath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".clipstash-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(body, length)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("rename temp to %s: %w", key, err)
	}

	metrics.RecordStorageOperation("upload", time.Since(start), true)
	return &storage.UploadResult{
		Key:  key,
		ETag: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download reads the object with optional range support. Missing objects
// and unsatisfiable ranges are statuses, not errors.
func (b *Backend) Download(ctx context.Context, prefix, name string, rng *storage.ByteRange) (*storage.Download, error) {
	key := joinKey(prefix, name)
	path, err := b.fullPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storage.Download{Status: storage.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	total := info.Size()

	if rng == nil {
		return &storage.Download{
			Status:        storage.StatusOK,
			Body:          f,
			ContentLength: total,
			TotalSize:     total,
			ETag:          statETag(info),
		}, nil
	}

	if rng.Start >= total || rng.End >= total {
		f.Close()
		return &storage.Download{
			Status:       storage.StatusRangeInvalid,
			ContentRange: fmt.Sprintf("bytes */%d", total),
			TotalSize:    total,
		}, nil
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", key, err)
	}
	return &storage.Download{
		Status:        storage.StatusPartialContent,
		Body:          &limitedReadCloser{Reader: io.LimitReader(f, rng.Length()), Closer: f},
		ContentLength: rng.Length(),
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, total),
		TotalSize:     total,
		ETag:          statETag(info),
	}, nil
}

// limitedReadCloser reads from Reader but closes the underlying Closer.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// Delete removes the object. Missing objects are not an error.
func (b *Backend) Delete(ctx context.Context, prefix, name string) error {
	path, err := b.fullPath(joinKey(prefix, name))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", joinKey(prefix, name), err)
	}
	return nil
}

// List returns every object under prefix, names relative to it.
func (b *Backend) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	dir, err := b.fullPath(prefix)
	if err != nil {
		return nil, err
	}

	files := []storage.FileInfo{}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, storage.FileInfo{
			Name:         filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ETag:         statETag(info),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// DeleteFolder removes every object under prefix, best-effort, and
// returns the number deleted.
func (b *Backend) DeleteFolder(ctx context.Context, prefix string) (int, error) {
	files, err := b.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, f := range files {
		if err := b.Delete(ctx, prefix, f.Name); err != nil {
			logging.Warn("folder delete: object removal failed",
				zap.String("prefix", prefix), zap.String("name", f.Name), zap.Error(err))
			continue
		}
		deleted++
	}

	// Empty directory skeletons are not objects; sweep them away.
	if dir, err := b.fullPath(prefix); err == nil {
		os.RemoveAll(dir)
	}
	return deleted, nil
}

// CreateMultipartUpload opens a session and its staging directory.
func (b *Backend) CreateMultipartUpload(ctx context.Context, prefix, name string) (string, error) {
	uploadID := uuid.NewString()
	dir := filepath.Join(b.root, stagingDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	b.mu.Lock()
	b.sessions[uploadID] = &session{
		prefix:  prefix,
		name:    name,
		dir:     dir,
		parts:   make(map[int]storage.Part),
		created: time.Now(),
	}
	metrics.SetActiveMultipartSessions(len(b.sessions))
	b.mu.Unlock()

	return uploadID, nil
}

// UploadPart stages one numbered part. Re-uploading a part number
// overwrites the previous data.
func (b *Backend) UploadPart(ctx context.Context, prefix, name, uploadID string, partNumber int, length int64, body io.Reader) (string, error) {
	if length <= 0 || body == nil {
		return "", storage.ErrInvalidData
	}
	if partNumber < 1 {
		return "", fmt.Errorf("part number %d: %w", partNumber, storage.ErrPartsNotContiguous)
	}

	b.mu.Lock()
	sess, ok := b.sessions[uploadID]
	b.mu.Unlock()
	if !ok {
		return "", storage.ErrUploadNotFound
	}

	partPath := filepath.Join(sess.dir, strconv.Itoa(partNumber))
	f, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(body, length)); err != nil {
		f.Close()
		os.Remove(partPath)
		return "", fmt.Errorf("write part %d: %w", partNumber, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close part %d: %w", partNumber, err)
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	b.mu.Lock()
	sess.parts[partNumber] = storage.Part{PartNumber: partNumber, ETag: etag}
	b.mu.Unlock()
	return etag, nil
}

// CompleteMultipartUpload validates contiguity, concatenates the staged
// parts into the final object and destroys the session.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, prefix, name, uploadID string, parts []storage.Part) (*storage.UploadResult, error) {
	b.mu.Lock()
	sess, ok := b.sessions[uploadID]
	b.mu.Unlock()
	if !ok {
		return nil, storage.ErrUploadNotFound
	}

	if err := storage.ValidateParts(parts); err != nil {
		return nil, err
	}
	for _, p := range parts {
		if _, ok := sess.parts[p.PartNumber]; !ok {
			return nil, fmt.Errorf("part %d was never uploaded: %w", p.PartNumber, storage.ErrUploadNotFound)
		}
	}

	key := joinKey(sess.prefix, sess.name)
	path, err := b.fullPath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".clipstash-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	hasher := sha256.New()

	sorted := append([]storage.Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	for _, p := range sorted {
		partPath := filepath.Join(sess.dir, strconv.Itoa(p.PartNumber))
		pf, err := os.Open(partPath)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return nil, fmt.Errorf("open part %d: %w", p.PartNumber, err)
		}
		_, err = io.Copy(io.MultiWriter(tmp, hasher), pf)
		pf.Close()
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return nil, fmt.Errorf("assemble part %d: %w", p.PartNumber, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("rename temp to %s: %w", key, err)
	}

	b.destroySession(uploadID, sess)
	return &storage.UploadResult{
		Key:  key,
		ETag: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// AbortMultipartUpload destroys the session and purges staged data. Safe
// to call whether or not parts were uploaded.
func (b *Backend) AbortMultipartUpload(ctx context.Context, prefix, name, uploadID string) error {
	b.mu.Lock()
	sess, ok := b.sessions[uploadID]
	b.mu.Unlock()
	if !ok {
		return storage.ErrUploadNotFound
	}
	b.destroySession(uploadID, sess)
	return nil
}

func (b *Backend) destroySession(uploadID string, sess *session) {
	os.RemoveAll(sess.dir)
	b.mu.Lock()
	delete(b.sessions, uploadID)
	metrics.SetActiveMultipartSessions(len(b.sessions))
	b.mu.Unlock()
}

// StartReaper starts the background goroutine that purges abandoned
// multipart sessions past their TTL.
func (b *Backend) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.reapSessions()
			}
		}
	}()
}

func (b *Backend) reapSessions() {
	cutoff := time.Now().Add(-sessionTTL)

	b.mu.Lock()
	expired := make(map[string]*session)
	for id, sess := range b.sessions {
		if sess.created.Before(cutoff) {
			expired[id] = sess
		}
	}
	b.mu.Unlock()

	for id, sess := range expired {
		b.destroySession(id, sess)
		logging.Info("reaped abandoned multipart session", zap.String("upload_id", id))
	}
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

func statETag(info os.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano())
}
