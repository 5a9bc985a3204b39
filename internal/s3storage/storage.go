// Package s3storage implements the bucket API on S3 compatible stores
// through MinIO's client.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// Options holds the S3 connection settings.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Storage wraps MinIO/S3 interactions for site and DRC buckets.
type Storage struct {
	client *minio.Client
	region string
}

// New creates a MinIO client.
func New(opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, region: opts.Region}, nil
}

// EnsureBuckets makes sure the given buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		if err := s.CreateBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

// CreateBucket creates bucket unless it already exists.
func (s *Storage) CreateBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", bucket, err)
		}
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
		if err := s.client.RemoveObject(ctx, bucket, it.Name, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", it.Name, mapError(bucket, err))
		}
	}
	if err := s.client.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("remove bucket %s: %w", bucket, mapError(bucket, err))
	}
	return nil
}

// List returns every object in bucket. S3 objects are immutable, so the last
// modified time serves as both creation and update time.
func (s *Storage) List(ctx context.Context, bucket string) ([]model.BucketItem, error) {
	return s.ListPrefix(ctx, bucket, "")
}

// ListPrefix returns the objects of bucket whose name starts with prefix.
func (s *Storage) ListPrefix(ctx context.Context, bucket, prefix string) ([]model.BucketItem, error) {
	var items []model.BucketItem
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, mapError(bucket, obj.Err)
		}
		items = append(items, model.BucketItem{
			Name:        obj.Key,
			Size:        obj.Size,
			TimeCreated: obj.LastModified,
			Updated:     obj.LastModified,
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
		return nil, fmt.Errorf("read %s: %w", name, mapError(bucket, err))
	}
	return buf, nil
}

// Open streams an object.
func (s *Storage) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, mapError(bucket, err))
	}
	return obj, nil
}

// Write uploads data as name.
func (s *Storage) Write(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", name, mapError(bucket, err))
	}
	return nil
}

// Copy performs a server side copy.
func (s *Storage) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstName},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcName})
	if err != nil {
		return fmt.Errorf("copy %s to %s/%s: %w", srcName, dstBucket, dstName, mapError(srcBucket, err))
	}
	return nil
}

// Delete removes an object.
func (s *Storage) Delete(ctx context.Context, bucket, name string) error {
	if err := s.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", name, mapError(bucket, err))
	}
	return nil
}

// Stat returns an object's metadata, or nil when it does not exist.
func (s *Storage) Stat(ctx context.Context, bucket, name string) (*model.BucketItem, error) {
	info, err := s.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", name, mapError(bucket, err))
	}
	return &model.BucketItem{Name: info.Key, Size: info.Size, TimeCreated: info.LastModified, Updated: info.LastModified}, nil
}

func mapError(bucket string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return model.BucketNotFoundError{Bucket: bucket}
	}
	return err
}
