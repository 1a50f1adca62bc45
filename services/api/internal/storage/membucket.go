package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"navio/pkg/s3"
)

// MemBucket is an in-process Bucket. PutErr, when set, decides the outcome
// of each PutObject call before it is stored.
type MemBucket struct {
	mu      sync.Mutex
	objects map[string]memObject
	puts    int

	PutErr func(key string, attempt int) error
}

type memObject struct {
	data         []byte
	contentType  string
	cacheControl string
}

func NewMemBucket() *MemBucket {
	return &MemBucket{objects: make(map[string]memObject)}
}

func (b *MemBucket) PutObject(_ context.Context, bucket, key string, body []byte, contentType, cacheControl string) error {
	b.mu.Lock()
	b.puts++
	attempt := b.puts
	hook := b.PutErr
	b.mu.Unlock()

	if hook != nil {
		if err := hook(key, attempt); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+key] = memObject{
		data:         append([]byte(nil), body...),
		contentType:  contentType,
		cacheControl: cacheControl,
	}
	return nil
}

func (b *MemBucket) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[bucket+"/"+key]
	if !ok {
		return nil, "", s3.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (b *MemBucket) DeleteObject(_ context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, bucket+"/"+key)
	return nil
}

func (b *MemBucket) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://presigned.invalid/" + bucket + "/" + key + "?ttl=" + ttl.String(), nil
}

// Keys lists stored objects as bucket/key, sorted.
func (b *MemBucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts is the number of PutObject calls seen, including failed ones.
func (b *MemBucket) Puts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// CacheControl returns the header stored with bucket/key.
func (b *MemBucket) CacheControl(bucket, key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[bucket+"/"+key].cacheControl
}
