package actions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/moodcycler/internal/cycler"
	"github.com/dokzlo13/moodcycler/internal/db"
	"github.com/dokzlo13/moodcycler/internal/host"
	"github.com/dokzlo13/moodcycler/internal/ledger"
	"github.com/dokzlo13/moodcycler/internal/storage/kv"
)

type fakeHost struct{ activated []string }

func (f *fakeHost) ListMoods(ctx context.Context) ([]host.Mood, error) {
	return []host.Mood{
		{ID: "m1", Name: "Energize", Zone: "living"},
		{ID: "m2", Name: "Relax", Zone: "living"},
	}, nil
}

func (f *fakeHost) ActivateMood(ctx context.Context, id string) error {
	f.activated = append(f.activated, id)
	return nil
}

// gatedHost holds every activation until release is closed
type gatedHost struct {
	fakeHost
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedHost) ActivateMood(ctx context.Context, id string) error {
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activated = append(g.activated, id)
	return nil
}

type deviceMap map[string]*cycler.Device

func (m deviceMap) Get(id string) (*cycler.Device, error) {
	dev, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", id)
	}
	return dev, nil
}

type observed struct {
	action, source string
	err            error
}

func setup(t *testing.T) (*Invoker, *fakeHost, *ledger.Ledger, *[]observed) {
	t.Helper()

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &fakeHost{}
	devices := deviceMap{
		"living": cycler.NewDevice(cycler.Data{ID: "living", ZoneID: "living"}, kv.NewMemoryBucket("device:living"), h, cycler.Hooks{}),
	}

	registry := NewRegistry()
	require.NoError(t, RegisterFlowCards(registry))
	assert.Equal(t, []string{ActionButton, ActionCycleMood, ActionSyncMoods}, registry.Names())
	assert.Error(t, RegisterFlowCards(registry), "double registration")

	l := ledger.New(database.DB)
	var seen []observed
	inv := NewInvoker(registry, l, devices, func(action, source string, err error) {
		seen = append(seen, observed{action, source, err})
	})
	return inv, h, l, &seen
}

func TestInvoker_FlowCards(t *testing.T) {
	inv, h, _, seen := setup(t)
	ctx := context.Background()

	err := inv.Invoke(ctx, ActionCycleMood, "living", "", "cli")
	assert.ErrorIs(t, err, cycler.ErrNoMoods)

	require.NoError(t, inv.Invoke(ctx, ActionSyncMoods, "living", "", "cli"))
	require.NoError(t, inv.Invoke(ctx, ActionCycleMood, "living", "", "cli"))
	require.NoError(t, inv.Invoke(ctx, ActionButton, "living", "", "mqtt"))

	assert.Equal(t, []string{"m2", "m1"}, h.activated)
	require.Len(t, *seen, 4)
	assert.Equal(t, "mqtt", (*seen)[3].source)

	assert.Error(t, inv.Invoke(ctx, ActionCycleMood, "nope", "", "cli"))
	assert.Error(t, inv.Invoke(ctx, "dance", "living", "", "cli"))
	assert.True(t, inv.HasAction(ActionButton))
	assert.False(t, inv.HasAction("dance"))
}

func TestInvoker_Idempotency(t *testing.T) {
	inv, h, l, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, inv.Invoke(ctx, ActionSyncMoods, "living", "", "webhook"))

	require.NoError(t, inv.Invoke(ctx, ActionButton, "living", "evt-1", "webhook"))
	require.NoError(t, inv.Invoke(ctx, ActionButton, "living", "evt-1", "webhook"))
	assert.Equal(t, []string{"m2"}, h.activated, "replayed event is skipped")

	assert.True(t, l.HasCompleted("evt-1"))

	entries, err := l.GetByDevice("living", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestInvoker_FailureIsNotDeduped(t *testing.T) {
	inv, h, l, _ := setup(t)
	ctx := context.Background()

	// No moods yet: fails and records the failure
	assert.Error(t, inv.Invoke(ctx, ActionButton, "living", "evt-2", "webhook"))
	assert.False(t, l.HasCompleted("evt-2"))

	require.NoError(t, inv.Invoke(ctx, ActionSyncMoods, "living", "", "webhook"))
	require.NoError(t, inv.Invoke(ctx, ActionButton, "living", "evt-2", "webhook"))
	assert.Equal(t, []string{"m2"}, h.activated)

	failed, err := l.GetByType(ledger.EventActionFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "button", failed[0].Payload["action"])
}

func TestInvoker_ConcurrentDuplicateDelivery(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &gatedHost{entered: make(chan struct{}, 2), release: make(chan struct{})}
	devices := deviceMap{
		"living": cycler.NewDevice(cycler.Data{ID: "living", ZoneID: "living"}, kv.NewMemoryBucket("device:living"), h, cycler.Hooks{}),
	}
	registry := NewRegistry()
	require.NoError(t, RegisterFlowCards(registry))
	l := ledger.New(database.DB)
	inv := NewInvoker(registry, l, devices, nil)

	ctx := context.Background()
	require.NoError(t, inv.Invoke(ctx, ActionSyncMoods, "living", "", "webhook"))

	errs := make(chan error, 2)
	go func() { errs <- inv.Invoke(ctx, ActionButton, "living", "evt-3", "webhook") }()
	<-h.entered

	go func() { errs <- inv.Invoke(ctx, ActionButton, "living", "evt-3", "webhook") }()
	time.Sleep(20 * time.Millisecond)
	close(h.release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"m2"}, h.activated, "second delivery waits and is skipped")
	assert.True(t, l.HasCompleted("evt-3"))

	inv.mu.Lock()
	assert.Empty(t, inv.inflight)
	inv.mu.Unlock()
}
