// Package storage defines the Adapter interface for content and file
// storage and the key scheme used across backends. Implementations handle
// raw object I/O (S3 buckets, local filesystem); keyword metadata is
// handled separately by the meta stores.
package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"
)

var (
	// ErrInvalidData is returned by Upload when the length is not
	// positive or the stream is absent.
	ErrInvalidData = errors.New("storage: invalid upload data")

	// ErrUploadNotFound is returned by the multipart operations for an
	// unknown or already-consumed upload id.
	ErrUploadNotFound = errors.New("storage: multipart upload not found")

	// ErrPartsNotContiguous is returned by CompleteMultipartUpload when
	// the supplied parts do not form a gapless sequence starting at 1.
	ErrPartsNotContiguous = errors.New("storage: part numbers not contiguous from 1")
)

// FileInfo describes one stored object, with Name relative to the listed
// prefix.
type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag"`
}

// Part identifies one uploaded multipart chunk.
type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// UploadResult reports a finished upload.
type UploadResult struct {
	Key  string
	ETag string
}

// Download is the result of a Download call. Status mirrors HTTP
// semantics: 200 full body, 206 partial, 404 missing, 416 unsatisfiable
// range. A missing object is a result, not an error; callers must check
// Status. Body is nil unless Status is 200 or 206.
type Download struct {
	Status        int
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string
	TotalSize     int64
	ETag          string
}

// Text drains and closes the body, returning it as a string. It returns
// "" for statuses without a body.
func (d *Download) Text() (string, error) {
	if d.Body == nil {
		return "", nil
	}
	defer d.Body.Close()
	b, err := io.ReadAll(d.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Adapter is the uniform interface over an object store. Both backends
// (remote bucket, local filesystem) satisfy the same contract so route
// handlers never know which one is active.
type Adapter interface {
	// Upload stores length bytes from body at prefix/name, overwriting
	// any existing object (last-writer-wins). ErrInvalidData when
	// length <= 0 or body is nil.
	Upload(ctx context.Context, prefix, name string, length int64, body io.Reader) (*UploadResult, error)

	// Download fetches prefix/name. rng selects a byte range; nil means
	// the whole object.
	Download(ctx context.Context, prefix, name string, rng *ByteRange) (*Download, error)

	// Delete removes prefix/name. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, prefix, name string) error

	// List returns every object under prefix with names relative to it,
	// paging internally until the backing store is exhausted.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// DeleteFolder removes every object under prefix, tolerating
	// individual delete failures, and returns the number deleted.
	DeleteFolder(ctx context.Context, prefix string) (int, error)

	// CreateMultipartUpload opens a multipart session for prefix/name.
	CreateMultipartUpload(ctx context.Context, prefix, name string) (uploadID string, err error)

	// UploadPart stores one numbered part within a session.
	UploadPart(ctx context.Context, prefix, name, uploadID string, partNumber int, length int64, body io.Reader) (etag string, err error)

	// CompleteMultipartUpload joins the parts into the final object.
	// Parts must be contiguous from 1 when sorted by part number.
	CompleteMultipartUpload(ctx context.Context, prefix, name, uploadID string, parts []Part) (*UploadResult, error)

	// AbortMultipartUpload discards the session and any partial data.
	// Safe to call whether or not parts were uploaded.
	AbortMultipartUpload(ctx context.Context, prefix, name, uploadID string) error

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ValidateParts checks that the part numbers form a gapless sequence
// starting at 1 when sorted, rejecting gaps and duplicates.
func ValidateParts(parts []Part) error {
	if len(parts) == 0 {
		return ErrPartsNotContiguous
	}
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		nums = append(nums, p.PartNumber)
	}
	sort.Ints(nums)
	for i, n := range nums {
		if n != i+1 {
			return ErrPartsNotContiguous
		}
	}
	return nil
}

// Convenience aliases so callers can compare Download.Status without
// importing net/http.
const (
	StatusOK             = http.StatusOK
	StatusPartialContent = http.StatusPartialContent
	StatusNotFound       = http.StatusNotFound
	StatusRangeInvalid   = http.StatusRequestedRangeNotSatisfiable
)
