package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/moodcycler/internal/driver"
)

type fakeHost struct {
	mu        sync.Mutex
	activated []string
}

func (f *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reply := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/manager/zones/zone":
		reply(map[string]any{
			"z1": map[string]any{"id": "z1", "name": "Living room"},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/api/manager/moods/mood":
		reply(map[string]any{
			"m1": map[string]any{"id": "m1", "name": "Bright", "zone": "z1"},
			"m2": map[string]any{"id": "m2", "name": "Relax", "zone": "z1"},
			"m3": map[string]any{"id": "m3", "name": "Test scene", "zone": "z1"},
		})
	case strings.HasPrefix(r.URL.Path, "/api/manager/moods/mood/") && strings.HasSuffix(r.URL.Path, "/set"):
		f.mu.Lock()
		f.activated = append(f.activated, r.URL.Path)
		f.mu.Unlock()
		reply(map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

// run executes one CLI invocation and returns what it printed
func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newCLI()
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"moodcycler", "--config", configPath}, args...))
	return out.String(), err
}

func TestCLI_PairCycleUnpair(t *testing.T) {
	h := &fakeHost{}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
host:
  url: `+srv.URL+`
  token: secret
  retry_wait: 10ms
  retry_max_wait: 20ms
  rate_limit_rps: 100
database:
  path: `+filepath.Join(dir, "moodcycler.sqlite")+`
log:
  level: error
`), 0o600))

	out, err := run(t, configPath, "pair", "--zone", "z1", "--name", "Desk", "--filter", `not string.find(name, "^Test")`, "desk")
	require.NoError(t, err)
	var info driver.DeviceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "Desk", info.Name)
	assert.True(t, info.Paired)
	assert.Equal(t, "z1", info.Store.ZoneID)
	require.Len(t, info.Store.Moods, 2, "filter drops the test scene")
	assert.Equal(t, 0, info.Store.CurrentIndex)

	// Each invocation reopens the database, so the pairing must have persisted
	out, err = run(t, configPath, "cycle", "desk")
	require.NoError(t, err)
	info = driver.DeviceInfo{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 1, info.Store.CurrentIndex)

	h.mu.Lock()
	assert.Equal(t, []string{"/api/manager/moods/mood/" + info.Store.Moods[1].ID + "/set"}, h.activated)
	h.mu.Unlock()

	out, err = run(t, configPath, "sync", "desk")
	require.NoError(t, err)
	info = driver.DeviceInfo{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 1, info.Store.CurrentIndex, "sync keeps the cursor")
	assert.NotNil(t, info.Store.LastSync)

	_, err = run(t, configPath, "unpair", "desk")
	require.NoError(t, err)

	_, err = run(t, configPath, "status", "desk")
	assert.Error(t, err, "unpaired device is gone")
}

func TestCLI_PairUnknownZone(t *testing.T) {
	srv := httptest.NewServer(&fakeHost{})
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
host:
  url: `+srv.URL+`
database:
  path: ":memory:"
log:
  level: error
`), 0o600))

	_, err := run(t, configPath, "pair", "--zone", "nowhere", "desk")
	assert.ErrorIs(t, err, driver.ErrUnknownZone)
}
