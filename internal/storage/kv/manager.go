package kv

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager manages bucket lifecycle and provides access to buckets.
// A nil db makes every bucket in-memory.
type Manager struct {
	db      *sql.DB
	buckets map[string]Bucket
	mu      sync.RWMutex
}

// NewManager creates a new KV manager.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:      db,
		buckets: make(map[string]Bucket),
	}
}

// NewMemoryManager creates a KV manager whose buckets never touch disk.
func NewMemoryManager() *Manager {
	return NewManager(nil)
}

// Bucket returns a bucket by name, creating it if it doesn't exist.
// If persistent is true and the manager has a database, the bucket is backed
// by SQLite; otherwise it's in-memory.
func (m *Manager) Bucket(name string, persistent bool) Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.buckets[name]; ok {
		return bucket
	}

	var bucket Bucket
	if persistent && m.db != nil {
		bucket = NewSQLiteBucket(m.db, name)
	} else {
		bucket = NewMemoryBucket(name)
	}

	m.buckets[name] = bucket
	log.Debug().
		Str("bucket", name).
		Bool("persistent", bucket.IsPersistent()).
		Msg("Created KV bucket")

	return bucket
}

// Delete removes a bucket and all its data.
func (m *Manager) Delete(name string) (bool, error) {
	m.mu.Lock()
	bucket, known := m.buckets[name]
	delete(m.buckets, name)
	m.mu.Unlock()

	if known && !bucket.IsPersistent() {
		return true, nil
	}
	if m.db == nil {
		return known, nil
	}

	result, err := m.db.Exec(`DELETE FROM kv_store WHERE bucket = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete bucket: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		log.Debug().Str("bucket", name).Int64("keys_deleted", affected).Msg("Deleted KV bucket")
	}

	return known || affected > 0, nil
}

// List returns all known bucket names, sorted.
func (m *Manager) List() ([]string, error) {
	m.mu.RLock()
	seen := make(map[string]bool, len(m.buckets))
	for name := range m.buckets {
		seen[name] = true
	}
	m.mu.RUnlock()

	if m.db != nil {
		rows, err := m.db.Query(`SELECT DISTINCT bucket FROM kv_store`)
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("failed to scan bucket name: %w", err)
			}
			seen[name] = true
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
