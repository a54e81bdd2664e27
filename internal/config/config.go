// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata backend ("postgres" or "sqlite")
	MetaBackend string
	DatabaseURL string
	SQLitePath  string

	// Storage backend ("s3", "local" or "smb")
	StorageBackend   string
	LocalStoragePath string

	// SMB storage (share pre-mounted on the host)
	SMBServer    string
	SMBMountPath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Auth. The server secret keys the token cipher and the password
	// hash salt; rotating it invalidates every cookie and stored hash.
	ServerSecret string

	// Upload limits
	MaxFileSize        int64
	MaxTotalSize       int64
	MaxFileCount       int
	ChunkSize          int64
	ChunkThreshold     int64
	MaxConcurrentParts int

	// Expiry sweep interval in seconds
	ReapInterval int

	// UI
	DefaultLanguage string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		MetaBackend:      envOr("META_BACKEND", "sqlite"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		SQLitePath:       envOr("SQLITE_PATH", "/data/clipstash.db"),
		StorageBackend:   envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/storage"),
		SMBServer:        envOr("SMB_SERVER", ""),
		SMBMountPath:     envOr("SMB_MOUNT_PATH", ""),
		S3Endpoint:       envOr("S3_ENDPOINT", ""),
		S3Bucket:         envOr("S3_BUCKET", "clipstash"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", true),
		ServerSecret:     envOr("SERVER_SECRET", ""),

		MaxFileSize:        envInt64("MAX_FILE_SIZE", 300*1024*1024),
		MaxTotalSize:       envInt64("MAX_TOTAL_SIZE", 300*1024*1024),
		MaxFileCount:       envInt("MAX_FILE_COUNT", 10),
		ChunkSize:          envInt64("CHUNK_SIZE", 50*1024*1024),
		ChunkThreshold:     envInt64("CHUNK_THRESHOLD", 100*1024*1024),
		MaxConcurrentParts: envInt("MAX_CONCURRENT_PARTS", 3),

		ReapInterval:    envInt("REAP_INTERVAL_SECONDS", 300),
		DefaultLanguage: envOr("DEFAULT_LANGUAGE", "en"),
	}

	if cfg.ServerSecret == "" {
		return nil, fmt.Errorf("SERVER_SECRET is required")
	}
	if cfg.MetaBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.StorageBackend == "s3" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 backend")
	}
	if cfg.StorageBackend == "smb" && cfg.SMBMountPath == "" {
		return nil, fmt.Errorf("SMB_MOUNT_PATH is required for the smb backend")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
