package artifact

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/key" -> content
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores an object and returns its canonical path.
func (m *MemoryStore) Put(_ context.Context, bucket, key string, data io.Reader, _ int64) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[objectID(bucket, key)] = content
	m.mu.Unlock()
	return CanonicalPath(bucket, key), nil
}

// Get returns a reader over an object's content.
func (m *MemoryStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	content, ok := m.objects[objectID(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Stat returns object metadata, or ErrNotFound.
func (m *MemoryStore) Stat(_ context.Context, bucket, key string) (Info, error) {
	m.mu.RLock()
	content, ok := m.objects[objectID(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{Key: key, Size: int64(len(content))}, nil
}

// List returns all objects under the given prefix, sorted by key.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []Info
	bucketPrefix := bucket + "/"
	for id, content := range m.objects {
		if !strings.HasPrefix(id, bucketPrefix) {
			continue
		}
		key := strings.TrimPrefix(id, bucketPrefix)
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, Info{Key: key, Size: int64(len(content))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes a single object. Missing objects are not an error.
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	delete(m.objects, objectID(bucket, key))
	m.mu.Unlock()
	return nil
}

// DeletePrefix removes every object under the prefix and returns the count.
func (m *MemoryStore) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	infos, err := m.List(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	for _, info := range infos {
		delete(m.objects, objectID(bucket, info.Key))
	}
	m.mu.Unlock()
	return len(infos), nil
}
