package reaper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/meta/metatest"
	"github.com/clipstash/clipstash/internal/model"
	"github.com/clipstash/clipstash/internal/storage"
	"github.com/clipstash/clipstash/internal/storage/local"
)

type fixture struct {
	store   *metatest.MemStore
	backend *local.Backend
	reaper  *Reaper
	root    string
	now     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	backend, err := local.New(local.Config{RootPath: root})
	require.NoError(t, err)
	store := metatest.NewMemStore()
	r := New(store, backend)

	now := model.NowMillis()
	r.now = func() int64 { return now }
	return &fixture{store: store, backend: backend, reaper: r, root: root, now: now}
}

// seedKeyword creates the metadata row plus a content object, two files
// and a session token, the full footprint of a live keyword.
func (f *fixture) seedKeyword(t *testing.T, word string, expireTime int64) {
	t.Helper()
	ctx := context.Background()

	kw := &model.Keyword{
		Word:       word,
		ViewWord:   model.NewViewWord(),
		ExpireTime: expireTime,
		CreateTime: f.now,
		UpdateTime: f.now,
	}
	require.NoError(t, f.store.Insert(ctx, model.TableKeyword, kw.ToRow()))

	_, err := f.backend.Upload(ctx, storage.ContentPrefix(word), storage.ContentName(),
		5, strings.NewReader("hello"))
	require.NoError(t, err)
	for _, name := range []string{"a.txt", "b.txt"} {
		_, err := f.backend.Upload(ctx, storage.FilePrefix(word), name,
			4, strings.NewReader("data"))
		require.NoError(t, err)
	}

	tok := &model.Token{
		Token:      "tok-" + word,
		Word:       word,
		ViewWord:   kw.ViewWord,
		IPAddress:  "10.0.0.1",
		CreateTime: f.now,
		ExpireTime: f.now + 3600_000,
	}
	require.NoError(t, f.store.Insert(ctx, model.TableTokens, tok.ToRow()))
}

func (f *fixture) keywordRow(t *testing.T, word string) meta.Row {
	t.Helper()
	row, err := f.store.First(context.Background(), model.TableKeyword, []meta.Cond{
		{Key: "word", Op: "=", Value: word},
	})
	require.NoError(t, err)
	return row
}

func TestDeleteKeywordCascades(t *testing.T) {
	f := newFixture(t)
	f.seedKeyword(t, "demo01", 0)
	ctx := context.Background()

	kw := model.KeywordFromRow(f.keywordRow(t, "demo01"))
	require.NoError(t, f.reaper.DeleteKeyword(ctx, kw))

	assert.Nil(t, f.keywordRow(t, "demo01"))

	dl, err := f.backend.Download(ctx, storage.ContentPrefix("demo01"), storage.ContentName(), nil)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusNotFound, dl.Status)

	files, err := f.backend.List(ctx, storage.FilePrefix("demo01"))
	require.NoError(t, err)
	assert.Empty(t, files)

	row, err := f.store.First(ctx, model.TableTokens, []meta.Cond{
		{Key: "word", Op: "=", Value: "demo01"},
	})
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = os.Stat(filepath.Join(f.root, "demo01"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteKeywordToleratesMissingBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Row only, no storage footprint at all.
	kw := &model.Keyword{Word: "bare01", ViewWord: model.NewViewWord()}
	require.NoError(t, f.store.Insert(ctx, model.TableKeyword, kw.ToRow()))

	require.NoError(t, f.reaper.DeleteKeyword(ctx, kw))
	assert.Nil(t, f.keywordRow(t, "bare01"))
}

func TestSweepRemovesOnlyOverdueKeywords(t *testing.T) {
	f := newFixture(t)
	f.seedKeyword(t, "gone01", f.now-1000)
	f.seedKeyword(t, "gone02", f.now) // due exactly now
	f.seedKeyword(t, "live01", f.now+60_000)
	f.seedKeyword(t, "forever", 0) // never expires

	removed := f.reaper.Sweep(context.Background())
	assert.Equal(t, 2, removed)

	assert.Nil(t, f.keywordRow(t, "gone01"))
	assert.Nil(t, f.keywordRow(t, "gone02"))
	assert.NotNil(t, f.keywordRow(t, "live01"))
	assert.NotNil(t, f.keywordRow(t, "forever"))
}

func TestSweepSkipsFailingRow(t *testing.T) {
	f := newFixture(t)
	f.seedKeyword(t, "stuck1", f.now-1000)
	f.seedKeyword(t, "gone01", f.now-1000)
	f.store.FailDelete["stuck1"] = true

	removed := f.reaper.Sweep(context.Background())
	assert.Equal(t, 1, removed)
	assert.Nil(t, f.keywordRow(t, "gone01"))
	assert.NotNil(t, f.keywordRow(t, "stuck1"))
}

func TestPurgeTokensDropsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := &model.Token{Token: "old", Word: "w1", ExpireTime: f.now - 1000}
	fresh := &model.Token{Token: "new", Word: "w2", ExpireTime: f.now + 3600_000}
	require.NoError(t, f.store.Insert(ctx, model.TableTokens, stale.ToRow()))
	require.NoError(t, f.store.Insert(ctx, model.TableTokens, fresh.ToRow()))

	f.reaper.PurgeTokens(ctx)

	row, err := f.store.First(ctx, model.TableTokens, []meta.Cond{
		{Key: "token", Op: "=", Value: "new"},
	})
	require.NoError(t, err)
	require.NotNil(t, row)
	row, err = f.store.First(ctx, model.TableTokens, []meta.Cond{
		{Key: "token", Op: "=", Value: "old"},
	})
	require.NoError(t, err)
	assert.Nil(t, row)
}
