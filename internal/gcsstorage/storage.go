// Package gcsstorage implements the bucket API on Google Cloud Storage.
package gcsstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// Storage wraps a GCS client.
type Storage struct {
	client  *storage.Client
	project string
}

// New creates a GCS client for project. opts are passed to the client, e.g.
// option.WithCredentialsFile or option.WithEndpoint for an emulator.
func New(ctx context.Context, project string, opts ...option.ClientOption) (*Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init gcs: %w", err)
	}
	return &Storage{client: client, project: project}, nil
}

// Close releases the client.
func (s *Storage) Close() error { return s.client.Close() }

// CreateBucket creates bucket unless it already exists.
func (s *Storage) CreateBucket(ctx context.Context, bucket string) error {
	err := s.client.Bucket(bucket).Create(ctx, s.project, nil)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// DeleteBucket empties and removes bucket.
func (s *Storage) DeleteBucket(ctx context.Context, bucket string) error {
	items, err := s.List(ctx, bucket)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := s.Delete(ctx, bucket, it.Name); err != nil {
			return err
		}
	}
	if err := s.client.Bucket(bucket).Delete(ctx); err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucket, mapError(bucket, err))
	}
	return nil
}

// List returns every object in bucket.
func (s *Storage) List(ctx context.Context, bucket string) ([]model.BucketItem, error) {
	return s.ListPrefix(ctx, bucket, "")
}

// ListPrefix returns the objects of bucket whose name starts with prefix.
func (s *Storage) ListPrefix(ctx context.Context, bucket, prefix string) ([]model.BucketItem, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var items []model.BucketItem
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", bucket, mapError(bucket, err))
		}
		items = append(items, model.BucketItem{
			Name:        attrs.Name,
			Size:        attrs.Size,
			TimeCreated: attrs.Created,
			Updated:     attrs.Updated,
		})
	}
	return items, nil
}

// Read fetches an object's bytes.
func (s *Storage) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	rc, err := s.Open(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf, nil
}

// Open streams an object.
func (s *Storage) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, mapError(bucket, err))
	}
	return rc, nil
}

// Write uploads data as name.
func (s *Storage) Write(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	w := s.client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", name, mapError(bucket, err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, mapError(bucket, err))
	}
	return nil
}

// Copy performs a server side copy.
func (s *Storage) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) error {
	src := s.client.Bucket(srcBucket).Object(srcName)
	dst := s.client.Bucket(dstBucket).Object(dstName)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("copy %s to %s/%s: %w", srcName, dstBucket, dstName, mapError(srcBucket, err))
	}
	return nil
}

// Delete removes an object.
func (s *Storage) Delete(ctx context.Context, bucket, name string) error {
	if err := s.client.Bucket(bucket).Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", name, mapError(bucket, err))
	}
	return nil
}

// Stat returns an object's metadata, or nil when it does not exist.
func (s *Storage) Stat(ctx context.Context, bucket, name string) (*model.BucketItem, error) {
	attrs, err := s.client.Bucket(bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, mapError(bucket, err))
	}
	return &model.BucketItem{Name: attrs.Name, Size: attrs.Size, TimeCreated: attrs.Created, Updated: attrs.Updated}, nil
}

func mapError(bucket string, err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return model.BucketNotFoundError{Bucket: bucket}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound && isBucketReason(apiErr) {
		return model.BucketNotFoundError{Bucket: bucket}
	}
	return err
}

func isBucketReason(apiErr *googleapi.Error) bool {
	if apiErr.Message == "The specified bucket does not exist." {
		return true
	}
	for _, item := range apiErr.Errors {
		if item.Message == "The specified bucket does not exist." {
			return true
		}
	}
	return false
}
