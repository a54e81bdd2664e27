// Package reaper removes expired keywords: their content object, file
// folder, metadata row and session tokens.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
	"github.com/clipstash/clipstash/internal/storage"
)

const sweepPageSize = 200

// Reaper performs the cascading keyword delete, both inline (for a
// single expired row hit by a request) and in periodic sweeps.
type Reaper struct {
	store   meta.Store
	backend storage.Adapter
	now     func() int64
}

// New creates a reaper over the metadata store and storage backend.
func New(store meta.Store, backend storage.Adapter) *Reaper {
	return &Reaper{store: store, backend: backend, now: model.NowMillis}
}

// DeleteKeyword removes everything under a keyword. Each step is
// tolerant of individual failures: blobs may be gone already, and a
// half-removed namespace must still lose its metadata row so it stops
// resolving. Per-item failures are logged, not propagated, except for
// the row delete itself.
func (r *Reaper) DeleteKeyword(ctx context.Context, kw *model.Keyword) error {
	word := kw.Word

	if err := r.backend.Delete(ctx, storage.ContentPrefix(word), storage.ContentName()); err != nil {
		logging.Warn("delete content object",
			zap.String("word", word), zap.Error(err))
	}

	deleted, err := r.backend.DeleteFolder(ctx, storage.FilePrefix(word))
	if err != nil {
		logging.Warn("delete file folder",
			zap.String("word", word), zap.Error(err))
	}

	if _, err := r.store.Delete(ctx, model.TableTokens, []meta.Cond{
		{Key: "word", Op: "=", Value: word},
	}); err != nil {
		logging.Warn("delete session tokens",
			zap.String("word", word), zap.Error(err))
	}

	if _, err := r.store.Delete(ctx, model.TableKeyword, []meta.Cond{
		{Key: "word", Op: "=", Value: word},
	}); err != nil {
		return err
	}

	metrics.RecordKeywordReaped()
	logging.Info("keyword removed",
		zap.String("word", word), zap.Int("files_deleted", deleted))
	return nil
}

// Sweep pages through every overdue keyword and deletes each. One
// failing row never aborts the sweep. Returns the number removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.now()
	where := []meta.Cond{
		{Key: "expire_time", Op: ">", Value: int64(0)},
		{Key: "expire_time", Op: "<=", Value: now},
	}

	removed := 0
	for {
		// Always page 1: each successful delete shrinks the match set.
		rows, err := r.store.Page(ctx, model.TableKeyword, where, 1, sweepPageSize)
		if err != nil {
			logging.Error("sweep query", zap.Error(err))
			return removed
		}
		if len(rows) == 0 {
			return removed
		}

		progressed := false
		for _, row := range rows {
			kw := model.KeywordFromRow(row)
			if err := r.DeleteKeyword(ctx, kw); err != nil {
				logging.Error("sweep delete",
					zap.String("word", kw.Word), zap.Error(err))
				continue
			}
			removed++
			progressed = true
		}
		if !progressed {
			// Every row in the page failed; bail rather than spin.
			return removed
		}
	}
}

// PurgeTokens drops expired session tokens.
func (r *Reaper) PurgeTokens(ctx context.Context) {
	n, err := r.store.Delete(ctx, model.TableTokens, []meta.Cond{
		{Key: "expire_time", Op: "<=", Value: r.now()},
	})
	if err != nil {
		logging.Warn("purge tokens", zap.Error(err))
		return
	}
	if n > 0 {
		logging.Debug("purged session tokens", zap.Int64("count", n))
	}
}

// Start runs Sweep and PurgeTokens on a fixed interval until ctx is
// cancelled.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(ctx); n > 0 {
					logging.Info("expiry sweep finished", zap.Int("removed", n))
				}
				r.PurgeTokens(ctx)
			}
		}
	}()
}
