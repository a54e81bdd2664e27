// Package s3 provides an S3-compatible bucket storage backend.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/clipstash/clipstash/internal/logging"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/storage"
)

// Page cap applied by S3-compatible stores on list calls.
const listPageSize = 1000

// Config holds S3 backend settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Backend implements storage.Adapter over an S3-compatible bucket.
type Backend struct {
	client *s3.Client
	bucket string
}

// New creates an S3 backend. A non-empty Endpoint selects an
// S3-compatible store (MinIO, R2) with path-style addressing.
func New(cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		Region:      cfg.Region,
		RetryMode:   aws.RetryModeStandard,
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				scheme := "https"
				if !cfg.UseSSL {
					scheme = "http"
				}
				endpoint = scheme + "://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Upload stores the object with PutObject, overwriting any existing key.
func (b *Backend) Upload(ctx context.Context, prefix, name string, length int64, body io.Reader) (*storage.UploadResult, error) {
	if length <= 0 || body == nil {
		return nil, storage.ErrInvalidData
	}

	start := time.Now()
	key := joinKey(prefix, name)
	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          io.LimitReader(body, length),
		ContentLength: aws.Int64(length),
	})
	metrics.RecordStorageOperation("upload", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	return &storage.UploadResult{Key: key, ETag: unquote(aws.ToString(out.ETag))}, nil
}

// Download fetches the object, validating any range against a HeadObject
// call so both backends report 404/416 identically.
func (b *Backend) Download(ctx context.Context, prefix, name string, rng *storage.ByteRange) (*storage.Download, error) {
	key := joinKey(prefix, name)

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return &storage.Download{Status: storage.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	total := aws.ToInt64(head.ContentLength)

	if rng != nil && (rng.Start >= total || rng.End >= total) {
		return &storage.Download{
			Status:       storage.StatusRangeInvalid,
			ContentRange: fmt.Sprintf("bytes */%d", total),
			TotalSize:    total,
		}, nil
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}
	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return &storage.Download{Status: storage.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	dl := &storage.Download{
		Status:        storage.StatusOK,
		Body:          out.Body,
		ContentLength: aws.ToInt64(out.ContentLength),
		TotalSize:     total,
		ETag:          unquote(aws.ToString(out.ETag)),
	}
	if rng != nil {
		dl.Status = storage.StatusPartialContent
		dl.ContentRange = fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, total)
	}
	return dl, nil
}

// Delete removes the object; S3 deletes are idempotent.
func (b *Backend) Delete(ctx context.Context, prefix, name string) error {
	key := joinKey(prefix, name)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List aggregates every page under prefix via the continuation-token
// loop, returning names relative to the prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	files := []storage.FileInfo{}
	strip := prefix + "/"

	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(strip),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			files = append(files, storage.FileInfo{
				Name:         strings.TrimPrefix(aws.ToString(obj.Key), strip),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         unquote(aws.ToString(obj.ETag)),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return files, nil
}

// DeleteFolder pages through the prefix and deletes each object,
// continuing past individual failures.
func (b *Backend) DeleteFolder(ctx context.Context, prefix string) (int, error) {
	strip := prefix + "/"
	deleted := 0

	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(strip),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return deleted, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				logging.Warn("folder delete: object removal failed",
					zap.String("key", aws.ToString(obj.Key)), zap.Error(err))
				continue
			}
			deleted++
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return deleted, nil
}

// CreateMultipartUpload opens a multipart session in the bucket.
func (b *Backend) CreateMultipartUpload(ctx context.Context, prefix, name string) (string, error) {
	key := joinKey(prefix, name)
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart %s: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart streams one numbered part to the session.
func (b *Backend) UploadPart(ctx context.Context, prefix, name, uploadID string, partNumber int, length int64, body io.Reader) (string, error) {
	if length <= 0 || body == nil {
		return "", storage.ErrInvalidData
	}
	key := joinKey(prefix, name)
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          io.LimitReader(body, length),
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return "", storage.ErrUploadNotFound
		}
		return "", fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
	}
	return unquote(aws.ToString(out.ETag)), nil
}

// CompleteMultipartUpload validates contiguity and finalizes the object.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, prefix, name, uploadID string, parts []storage.Part) (*storage.UploadResult, error) {
	if err := storage.ValidateParts(parts); err != nil {
		return nil, err
	}

	key := joinKey(prefix, name)
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}
	// S3 requires ascending part order in the completion call.
	for i := 1; i < len(completed); i++ {
		for j := i; j > 0 && aws.ToInt32(completed[j].PartNumber) < aws.ToInt32(completed[j-1].PartNumber); j-- {
			completed[j], completed[j-1] = completed[j-1], completed[j]
		}
	}

	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return nil, storage.ErrUploadNotFound
		}
		return nil, fmt.Errorf("complete multipart %s: %w", key, err)
	}
	return &storage.UploadResult{Key: key, ETag: unquote(aws.ToString(out.ETag))}, nil
}

// AbortMultipartUpload discards the session and any uploaded parts.
func (b *Backend) AbortMultipartUpload(ctx context.Context, prefix, name, uploadID string) error {
	key := joinKey(prefix, name)
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return storage.ErrUploadNotFound
		}
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	return nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op; the SDK client holds no persistent connections.
func (b *Backend) Close() error { return nil }

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func isNoSuchUpload(err error) bool {
	var noUpload *types.NoSuchUpload
	return errors.As(err, &noUpload)
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}
