package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/moodcycler/internal/db"
)

type storedMood struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// exerciseBucket runs the same contract against every backend.
func exerciseBucket(t *testing.T, b Bucket) {
	var index int
	found, err := b.Get("currentIndex", &index)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Store("currentIndex", 2))
	require.NoError(t, b.Store("moods", []storedMood{{ID: "m1", Name: "Relax"}, {ID: "m2", Name: "Read"}}))

	found, err = b.Get("currentIndex", &index)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, index)

	var moods []storedMood
	found, err = b.Get("moods", &moods)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []storedMood{{ID: "m1", Name: "Relax"}, {ID: "m2", Name: "Read"}}, moods)

	// Overwrite
	require.NoError(t, b.Store("currentIndex", 0))
	_, err = b.Get("currentIndex", &index)
	require.NoError(t, err)
	assert.Equal(t, 0, index)

	exists, err := b.Exists("moods")
	require.NoError(t, err)
	assert.True(t, exists)

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"currentIndex", "moods"}, keys)

	deleted, err := b.Delete("moods")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = b.Delete("moods")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, b.Clear())
	keys, err = b.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryBucket(t *testing.T) {
	b := NewMemoryBucket("device:test")
	assert.False(t, b.IsPersistent())
	exerciseBucket(t, b)
}

func TestSQLiteBucket(t *testing.T) {
	b := NewSQLiteBucket(openTestDB(t).DB, "device:test")
	assert.True(t, b.IsPersistent())
	exerciseBucket(t, b)
}

func TestMemoryBucket_StoreCopiesValue(t *testing.T) {
	b := NewMemoryBucket("copy")
	moods := []storedMood{{ID: "m1", Name: "Relax"}}
	require.NoError(t, b.Store("moods", moods))

	moods[0].Name = "changed"

	var got []storedMood
	_, err := b.Get("moods", &got)
	require.NoError(t, err)
	assert.Equal(t, "Relax", got[0].Name)
}

func TestManager_BucketsAreIsolated(t *testing.T) {
	m := NewManager(openTestDB(t).DB)

	a := m.Bucket("device:a", true)
	b := m.Bucket("device:b", true)
	assert.Same(t, a, m.Bucket("device:a", true))

	require.NoError(t, a.Store("zoneId", "zone-a"))
	require.NoError(t, b.Store("zoneId", "zone-b"))

	var zone string
	_, err := a.Get("zoneId", &zone)
	require.NoError(t, err)
	assert.Equal(t, "zone-a", zone)

	names, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"device:a", "device:b"}, names)

	deleted, err := m.Delete("device:a")
	require.NoError(t, err)
	assert.True(t, deleted)

	fresh := m.Bucket("device:a", true)
	found, err := fresh.Get("zoneId", &zone)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryManager(t *testing.T) {
	m := NewMemoryManager()
	b := m.Bucket("device:a", true)
	assert.False(t, b.IsPersistent())

	require.NoError(t, b.Store("k", "v"))
	deleted, err := m.Delete("device:a")
	require.NoError(t, err)
	assert.True(t, deleted)

	names, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
