// Package storage contains the in-memory object store used by tests and the
// "memory" storage backend. It mirrors the bucket semantics of the S3 and GCS
// gateways closely enough for the pipeline not to tell them apart.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
)

type object struct {
	data        []byte
	contentType string
	created     time.Time
	updated     time.Time
}

// MemoryStore keeps buckets of objects in maps guarded by an RWMutex so
// concurrent readers do not block each other.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*object
	now     func() time.Time
}

// NewMemoryStore constructs a MemoryStore with the given buckets.
func NewMemoryStore(buckets ...string) *MemoryStore {
	m := &MemoryStore{
		buckets: make(map[string]map[string]*object),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, b := range buckets {
		m.buckets[b] = make(map[string]*object)
	}
	return m
}

// SetClock replaces the clock used to stamp writes.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// CreateBucket adds an empty bucket if it does not exist yet.
func (m *MemoryStore) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]*object)
	}
	return nil
}

// DeleteBucket drops a bucket and everything in it.
func (m *MemoryStore) DeleteBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		return model.BucketNotFoundError{Bucket: bucket}
	}
	delete(m.buckets, bucket)
	return nil
}

// Put stores an object with explicit timestamps. Tests use it to build
// buckets with a known history.
func (m *MemoryStore) Put(bucket, name string, data []byte, created, updated time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.buckets[bucket]
	if !ok {
		objs = make(map[string]*object)
		m.buckets[bucket] = objs
	}
	objs[name] = &object{data: append([]byte(nil), data...), created: created, updated: updated}
}

// List returns every object in bucket sorted by name.
func (m *MemoryStore) List(_ context.Context, bucket string) ([]model.BucketItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	objs, ok := m.buckets[bucket]
	if !ok {
		return nil, model.BucketNotFoundError{Bucket: bucket}
	}
	items := make([]model.BucketItem, 0, len(objs))
	for name, o := range objs {
		items = append(items, item(name, o))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// ListPrefix returns the objects of bucket whose name starts with prefix.
func (m *MemoryStore) ListPrefix(ctx context.Context, bucket, prefix string) ([]model.BucketItem, error) {
	items, err := m.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	var out []model.BucketItem
	for _, it := range items {
		if strings.HasPrefix(it.Name, prefix) {
			out = append(out, it)
		}
	}
	return out, nil
}

func item(name string, o *object) model.BucketItem {
	return model.BucketItem{
		Name:        name,
		Size:        int64(len(o.data)),
		TimeCreated: o.created,
		Updated:     o.updated,
	}
}

// Read returns a copy of an object's content.
func (m *MemoryStore) Read(_ context.Context, bucket, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, err := m.lookup(bucket, name)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), o.data...), nil
}

// Open returns a reader over an object's content.
func (m *MemoryStore) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	data, err := m.Read(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Write creates or replaces an object. Replacing keeps the creation time.
func (m *MemoryStore) Write(_ context.Context, bucket, name string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.buckets[bucket]
	if !ok {
		return model.BucketNotFoundError{Bucket: bucket}
	}
	now := m.now()
	created := now
	if prev, ok := objs[name]; ok {
		created = prev.created
	}
	objs[name] = &object{data: append([]byte(nil), data...), contentType: contentType, created: created, updated: now}
	return nil
}

// Copy duplicates an object, possibly across buckets.
func (m *MemoryStore) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) error {
	m.mu.RLock()
	o, err := m.lookup(srcBucket, srcName)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return m.Write(ctx, dstBucket, dstName, o.data, o.contentType)
}

// Delete removes an object.
func (m *MemoryStore) Delete(_ context.Context, bucket, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(bucket, name); err != nil {
		return err
	}
	delete(m.buckets[bucket], name)
	return nil
}

// Stat returns an object's metadata, or nil when it does not exist.
func (m *MemoryStore) Stat(_ context.Context, bucket, name string) (*model.BucketItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, err := m.lookup(bucket, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it := item(name, o)
	return &it, nil
}

// lookup must be called with the lock held.
func (m *MemoryStore) lookup(bucket, name string) (*object, error) {
	objs, ok := m.buckets[bucket]
	if !ok {
		return nil, model.BucketNotFoundError{Bucket: bucket}
	}
	o, ok := objs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}
