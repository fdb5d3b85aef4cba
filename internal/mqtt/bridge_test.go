package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
)

type recordingBus struct{ events []eventbus.Event }

func (b *recordingBus) Publish(e eventbus.Event) bool {
	b.events = append(b.events, e)
	return true
}

func TestDeviceFromSetTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"moodcycler/living/set", "living", true},
		{"moodcycler/living/state", "", false},
		{"other/living/set", "", false},
		{"moodcycler//set", "", false},
		{"moodcycler/a/b/set", "", false},
	}
	for _, tt := range tests {
		got, ok := DeviceFromSetTopic("moodcycler", tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.want, got, tt.topic)
	}
}

func TestParseCommand(t *testing.T) {
	action, ok := ParseCommand([]byte("cycle"))
	assert.True(t, ok)
	assert.Equal(t, "cycle-mood", action)

	action, ok = ParseCommand([]byte(" SYNC\n"))
	assert.True(t, ok)
	assert.Equal(t, "sync-moods", action)

	action, ok = ParseCommand([]byte(`{"command":"next"}`))
	assert.True(t, ok)
	assert.Equal(t, "cycle-mood", action)

	_, ok = ParseCommand([]byte("dance"))
	assert.False(t, ok)
}

func TestButtonMatching(t *testing.T) {
	assert.Equal(t, "single", ButtonAction([]byte(`{"action":"single","battery":90}`)))
	assert.Equal(t, "", ButtonAction([]byte(`{"battery":90}`)))
	assert.Equal(t, "pressed", ButtonAction([]byte("pressed")))

	assert.True(t, MatchAction("anything", nil))
	assert.True(t, MatchAction("single", []string{"single", "double"}))
	assert.False(t, MatchAction("hold", []string{"single", "double"}))
}

func TestBridge_HandleButton(t *testing.T) {
	bus := &recordingBus{}
	b := NewBridge(config.MQTTConfig{TopicPrefix: "moodcycler"}, []config.CyclerConfig{
		{ID: "living", Button: config.ButtonConfig{MQTTTopic: "z2m/remote", MQTTActions: []string{"single"}}},
		{ID: "kitchen", Button: config.ButtonConfig{MQTTTopic: "z2m/remote"}},
		{ID: "bedroom"},
	}, bus)

	assert.Equal(t, []string{"z2m/remote"}, b.Topics())

	bindings := b.buttons["z2m/remote"]
	b.handleButton("z2m/remote", bindings, []byte(`{"action":"double"}`))
	require.Len(t, bus.events, 1)
	assert.Equal(t, "kitchen", bus.events[0].Payload.(eventbus.ActionRequest).DeviceID)

	b.handleButton("z2m/remote", bindings, []byte(`{"action":"single"}`))
	require.Len(t, bus.events, 3)
	req := bus.events[1].Payload.(eventbus.ActionRequest)
	assert.Equal(t, "living", req.DeviceID)
	assert.Equal(t, "button", req.Action)
	assert.Equal(t, "mqtt", req.Source)
	assert.Empty(t, req.EventID)

	b.handleSet("moodcycler/bedroom/set", []byte("sync"))
	require.Len(t, bus.events, 4)
	assert.Equal(t, "sync-moods", bus.events[3].Payload.(eventbus.ActionRequest).Action)

	b.handleSet("moodcycler/bedroom/set", []byte("bogus"))
	assert.Len(t, bus.events, 4)
}

func TestBridge_HandleEventWithoutClient(t *testing.T) {
	b := NewBridge(config.MQTTConfig{TopicPrefix: "moodcycler"}, nil, &recordingBus{})
	// Not connected: must be a no-op
	b.HandleEvent(eventbus.Event{Type: eventbus.EventTypeMoodActivated, Payload: eventbus.MoodActivated{DeviceID: "x"}})
	b.Close()
	assert.Equal(t, "moodcycler/x/state", StateTopic("moodcycler", "x"))
}

func TestBridge_Debounce(t *testing.T) {
	bus := &recordingBus{}
	b := NewBridge(config.MQTTConfig{TopicPrefix: "moodcycler"}, []config.CyclerConfig{
		{ID: "living", Button: config.ButtonConfig{MQTTTopic: "z2m/remote", Debounce: config.Duration(time.Hour)}},
	}, bus)

	bindings := b.buttons["z2m/remote"]
	b.handleButton("z2m/remote", bindings, []byte(`{"action":"single"}`))
	b.handleButton("z2m/remote", bindings, []byte(`{"action":"single"}`))
	assert.Len(t, bus.events, 1, "second press of the burst is dropped")
}

func TestBridge_ForgetDevice(t *testing.T) {
	bus := &recordingBus{}
	b := NewBridge(config.MQTTConfig{TopicPrefix: "moodcycler"}, []config.CyclerConfig{
		{ID: "living", Button: config.ButtonConfig{MQTTTopic: "z2m/remote", Debounce: config.Duration(time.Hour)}},
		{ID: "kitchen", Button: config.ButtonConfig{MQTTTopic: "z2m/remote", Debounce: config.Duration(time.Hour)}},
	}, bus)

	bindings := b.buttons["z2m/remote"]
	b.handleButton("z2m/remote", bindings, []byte("pressed"))
	require.Len(t, bus.events, 2)

	b.ForgetDevice("living")
	b.ForgetDevice("unknown")
	b.handleButton("z2m/remote", bindings, []byte("pressed"))
	require.Len(t, bus.events, 3, "only the forgotten device fires inside the window")
	assert.Equal(t, "living", bus.events[2].Payload.(eventbus.ActionRequest).DeviceID)
}

func TestBridge_Message(t *testing.T) {
	b := NewBridge(config.MQTTConfig{TopicPrefix: "moodcycler"}, nil, &recordingBus{})
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	topic, payload, err := b.message(eventbus.Event{
		Type:    eventbus.EventTypeMoodActivated,
		Payload: eventbus.MoodActivated{DeviceID: "living", MoodID: "m2", MoodName: "Relax", Index: 1, Count: 3},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "moodcycler/living/state", topic)
	var state State
	require.NoError(t, json.Unmarshal(payload, &state))
	assert.Equal(t, State{MoodID: "m2", MoodName: "Relax", Index: 1, Count: 3, Updated: "2026-10-19T08:00:00Z"}, state)

	topic, payload, err = b.message(eventbus.Event{
		Type:    eventbus.EventTypeMoodsSynced,
		Payload: eventbus.MoodsSynced{DeviceID: "living", ZoneID: "z1", Count: 3},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "moodcycler/living/moods", topic)
	assert.Equal(t, MoodsTopic("moodcycler", "living"), topic)
	assert.JSONEq(t, `{"zone_id":"z1","count":3,"updated":"2026-10-19T08:00:00Z"}`, string(payload))

	topic, _, err = b.message(eventbus.Event{Type: eventbus.EventTypeAction, Payload: eventbus.ActionRequest{}}, now)
	require.NoError(t, err)
	assert.Empty(t, topic, "action requests are not mirrored")
}
