// clipstash server
//
// A short memorable word names a clipboard namespace: one text body
// plus attached files in object storage, metadata in SQL. A read-only
// view word gives viewer access; optional password; expired entries
// garbage-collected.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/api"
	"github.com/clipstash/clipstash/internal/auth"
	"github.com/clipstash/clipstash/internal/config"
	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/meta/postgres"
	"github.com/clipstash/clipstash/internal/meta/sqlite"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/reaper"
	"github.com/clipstash/clipstash/internal/storage"
	"github.com/clipstash/clipstash/internal/storage/local"
	s3storage "github.com/clipstash/clipstash/internal/storage/s3"
	"github.com/clipstash/clipstash/internal/storage/smb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("clipstash server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("meta_backend", cfg.MetaBackend),
		zap.String("storage_backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metaStore := openMetaStore(ctx, cfg)
	defer metaStore.Close()

	backend := openStorageBackend(ctx, cfg)
	defer backend.Close()

	hasher := auth.NewPasswordHasher(cfg.ServerSecret)
	cipher, err := auth.NewTokenCipher(cfg.ServerSecret)
	if err != nil {
		logging.Fatal("token cipher init failed", zap.Error(err))
	}
	sessions := auth.NewSessions(metaStore)

	rpr := reaper.New(metaStore, backend)
	rpr.Start(ctx, time.Duration(cfg.ReapInterval)*time.Second)

	gate := auth.NewGate(metaStore, cipher, rpr)

	srv := api.NewServer(cfg, metaStore, backend, gate, hasher, cipher, sessions, rpr)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func openMetaStore(ctx context.Context, cfg *config.Config) meta.Store {
	switch cfg.MetaBackend {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		if err := store.Migrate(ctx); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
		return store
	case "sqlite":
		logging.Info("opening SQLite database...", zap.String("path", cfg.SQLitePath))
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			logging.Fatal("database open failed", zap.Error(err))
		}
		if err := store.Migrate(ctx); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
		return store
	default:
		logging.Fatal("unknown metadata backend", zap.String("backend", cfg.MetaBackend))
		return nil
	}
}

func openStorageBackend(ctx context.Context, cfg *config.Config) storage.Adapter {
	switch cfg.StorageBackend {
	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logging.Fatal("s3 backend init failed", zap.Error(err))
		}
		return backend
	case "local":
		backend, err := local.New(local.Config{RootPath: cfg.LocalStoragePath})
		if err != nil {
			logging.Fatal("local backend init failed", zap.Error(err))
		}
		backend.StartReaper(ctx)
		return backend
	case "smb":
		backend, err := smb.New(smb.Config{
			Server:    cfg.SMBServer,
			MountPath: cfg.SMBMountPath,
		})
		if err != nil {
			logging.Fatal("smb backend init failed", zap.Error(err))
		}
		backend.StartReaper(ctx)
		return backend
	default:
		logging.Fatal("unknown storage backend", zap.String("backend", cfg.StorageBackend))
		return nil
	}
}
