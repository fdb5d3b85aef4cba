// Package kv provides named key-value buckets with SQLite persistence and in-memory options.
// Values are JSON-encoded on write in both backends, so a value read back
// from memory has the same shape it would have after a restart.
package kv

import (
	"encoding/json"
	"fmt"
)

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Store saves a JSON-serialisable value with the given key.
	Store(key string, value any) error

	// Get decodes the value stored under key into dst.
	// Returns false if the key doesn't exist; dst is left untouched.
	Get(key string, dst any) (bool, error)

	// Exists returns true if the key exists.
	Exists(key string) (bool, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}
