package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstash/clipstash/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	return b
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := "hello clipboard"
	_, err := b.Upload(ctx, "demo01", "index.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	dl, err := b.Download(ctx, "demo01", "index.txt", nil)
	require.NoError(t, err)
	require.Equal(t, storage.StatusOK, dl.Status)
	assert.Equal(t, int64(len(content)), dl.ContentLength)

	got, err := dl.Text()
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestUploadRejectsInvalidData(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, "w", "f", 0, strings.NewReader(""))
	assert.ErrorIs(t, err, storage.ErrInvalidData)

	_, err = b.Upload(ctx, "w", "f", 10, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}

func TestUploadOverwrites(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, "w", "f.txt", 5, strings.NewReader("first"))
	require.NoError(t, err)
	_, err = b.Upload(ctx, "w", "f.txt", 6, strings.NewReader("second"))
	require.NoError(t, err)

	dl, err := b.Download(ctx, "w", "f.txt", nil)
	require.NoError(t, err)
	got, err := dl.Text()
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestDownloadMissingIsStatusNotError(t *testing.T) {
	b := newTestBackend(t)

	dl, err := b.Download(context.Background(), "w", "nope.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusNotFound, dl.Status)
	assert.Nil(t, dl.Body)
}

func TestDeleteIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, "w", "f.txt", 4, strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "w", "f.txt"))
	require.NoError(t, b.Delete(ctx, "w", "f.txt"))
	require.NoError(t, b.Delete(ctx, "w", "never-existed.txt"))
}

func TestDownloadRange(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := "0123456789"
	_, err := b.Upload(ctx, "w", "f.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	dl, err := b.Download(ctx, "w", "f.txt", &storage.ByteRange{Start: 2, End: 5})
	require.NoError(t, err)
	require.Equal(t, storage.StatusPartialContent, dl.Status)
	assert.Equal(t, int64(4), dl.ContentLength)
	assert.Equal(t, "bytes 2-5/10", dl.ContentRange)

	got, err := dl.Text()
	require.NoError(t, err)
	assert.Equal(t, "2345", got)
}

func TestDownloadRangeUnsatisfiable(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := "0123456789"
	_, err := b.Upload(ctx, "w", "f.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	dl, err := b.Download(ctx, "w", "f.txt", &storage.ByteRange{Start: 10, End: 20})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRangeInvalid, dl.Status)
	assert.Equal(t, "bytes */10", dl.ContentRange)
	assert.Nil(t, dl.Body)
}

func TestListStripsPrefix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, "w/files", "a.txt", 1, strings.NewReader("a"))
	require.NoError(t, err)
	_, err = b.Upload(ctx, "w/files", "b.txt", 2, strings.NewReader("bb"))
	require.NoError(t, err)

	files, err := b.List(ctx, "w/files")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, int64(1), files[0].Size)
	assert.Equal(t, "b.txt", files[1].Name)
	assert.Equal(t, int64(2), files[1].Size)
}

func TestListMissingPrefixIsEmpty(t *testing.T) {
	b := newTestBackend(t)

	files, err := b.List(context.Background(), "no/such/prefix")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteFolder(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "sub/c.txt"} {
		_, err := b.Upload(ctx, "w/files", name, 1, strings.NewReader("x"))
		require.NoError(t, err)
	}

	count, err := b.DeleteFolder(ctx, "w/files")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	files, err := b.List(ctx, "w/files")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMultipartEquivalence(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// 2.5 chunks worth of data.
	chunkSize := 1024
	data := bytes.Repeat([]byte("clipstash!"), 256) // 2560 bytes

	_, err := b.Upload(ctx, "w/files", "direct.bin", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	uploadID, err := b.CreateMultipartUpload(ctx, "w/files", "multi.bin")
	require.NoError(t, err)

	var parts []storage.Part
	for i := 0; i*chunkSize < len(data); i++ {
		end := (i + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i*chunkSize : end]
		etag, err := b.UploadPart(ctx, "w/files", "multi.bin", uploadID, i+1, int64(len(chunk)), bytes.NewReader(chunk))
		require.NoError(t, err)
		parts = append(parts, storage.Part{PartNumber: i + 1, ETag: etag})
	}
	require.Len(t, parts, 3)

	result, err := b.CompleteMultipartUpload(ctx, "w/files", "multi.bin", uploadID, parts)
	require.NoError(t, err)

	direct, err := b.Download(ctx, "w/files", "direct.bin", nil)
	require.NoError(t, err)
	multi, err := b.Download(ctx, "w/files", "multi.bin", nil)
	require.NoError(t, err)

	directBytes, err := io.ReadAll(direct.Body)
	require.NoError(t, err)
	direct.Body.Close()
	multiBytes, err := io.ReadAll(multi.Body)
	require.NoError(t, err)
	multi.Body.Close()

	assert.Equal(t, directBytes, multiBytes)

	// Same bytes hash to the same etag on both paths.
	directRes, err := b.Upload(ctx, "w/files", "direct2.bin", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, directRes.ETag, result.ETag)
}

func TestCompleteRejectsNonContiguousParts(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "w/files", "f.bin")
	require.NoError(t, err)

	for _, n := range []int{1, 3} {
		_, err := b.UploadPart(ctx, "w/files", "f.bin", uploadID, n, 4, strings.NewReader("data"))
		require.NoError(t, err)
	}

	_, err = b.CompleteMultipartUpload(ctx, "w/files", "f.bin", uploadID,
		[]storage.Part{{PartNumber: 1}, {PartNumber: 3}})
	assert.ErrorIs(t, err, storage.ErrPartsNotContiguous)
}

func TestAbortPurgesStagedData(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "w/files", "f.bin")
	require.NoError(t, err)
	_, err = b.UploadPart(ctx, "w/files", "f.bin", uploadID, 1, 4, strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, b.AbortMultipartUpload(ctx, "w/files", "f.bin", uploadID))

	// Session gone, staging dir gone.
	_, err = b.UploadPart(ctx, "w/files", "f.bin", uploadID, 2, 4, strings.NewReader("more"))
	assert.ErrorIs(t, err, storage.ErrUploadNotFound)
	_, statErr := os.Stat(filepath.Join(b.root, stagingDir, uploadID))
	assert.True(t, os.IsNotExist(statErr))

	// Aborting an unknown session reports not-found.
	err = b.AbortMultipartUpload(ctx, "w/files", "f.bin", "no-such-id")
	assert.ErrorIs(t, err, storage.ErrUploadNotFound)
}

func TestKeyCannotEscapeRoot(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Upload(context.Background(), "..", "evil.txt", 4, strings.NewReader("data"))
	assert.Error(t, err)
}
