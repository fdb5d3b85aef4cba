package kv

import (
	"sort"
	"sync"
)

// MemoryBucket is an in-memory bucket (not persisted).
type MemoryBucket struct {
	name    string
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		entries: make(map[string][]byte),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// IsPersistent returns false (memory buckets are not persistent).
func (b *MemoryBucket) IsPersistent() bool {
	return false
}

// Store saves a value with the given key.
func (b *MemoryBucket) Store(key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[key] = data
	b.mu.Unlock()
	return nil
}

// Get decodes the value stored under key into dst.
func (b *MemoryBucket) Get(key string, dst any) (bool, error) {
	b.mu.RLock()
	data, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return true, decode(data, dst)
}

// Exists returns true if the key exists.
func (b *MemoryBucket) Exists(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.entries[key]
	return ok, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	if ok {
		delete(b.entries, key)
	}
	return ok, nil
}

// Keys returns all keys in the bucket, sorted.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes all keys from the bucket.
func (b *MemoryBucket) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string][]byte)
	return nil
}
