package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
	"github.com/dokzlo13/moodcycler/internal/middleware"
)

// Publisher accepts events for asynchronous handling
type Publisher interface {
	Publish(event eventbus.Event) bool
}

// Button binds a device to the actions of a physical button topic
type Button struct {
	DeviceID string
	Actions  []string // empty matches any payload

	debounce *middleware.Debouncer
}

// State is the retained JSON document published on <prefix>/<id>/state
type State struct {
	MoodID   string `json:"mood_id"`
	MoodName string `json:"mood_name"`
	Index    int    `json:"index"`
	Count    int    `json:"count"`
	Updated  string `json:"updated"`
}

// Bridge forwards button presses and set commands from the broker to
// the event bus and publishes each device's current mood back.
type Bridge struct {
	cfg     config.MQTTConfig
	bus     Publisher
	buttons map[string][]Button // topic -> bindings

	mu     sync.Mutex
	client pahomqtt.Client
}

// NewBridge creates a bridge for the configured cyclers. Connect must be
// called before it does anything.
func NewBridge(cfg config.MQTTConfig, cyclers []config.CyclerConfig, bus Publisher) *Bridge {
	buttons := make(map[string][]Button)
	for _, c := range cyclers {
		if c.Button.MQTTTopic == "" {
			continue
		}
		buttons[c.Button.MQTTTopic] = append(buttons[c.Button.MQTTTopic], Button{
			DeviceID: c.ID,
			Actions:  c.Button.MQTTActions,
			debounce: middleware.NewDebouncer(c.Button.Debounce.Duration()),
		})
	}
	return &Bridge{cfg: cfg, bus: bus, buttons: buttons}
}

// Connect dials the broker. Subscriptions are (re)made on every connect.
func (b *Bridge) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.cfg.TopicPrefix+"/bridge/state", "offline", b.cfg.QoS, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			log.Info().Str("broker", b.cfg.Broker).Msg("MQTT connected")
			b.publish(c, b.cfg.TopicPrefix+"/bridge/state", []byte("online"), true)
			b.subscribe(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	timeout := b.cfg.Timeout.Duration()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return nil
}

// Close publishes the offline state and disconnects
func (b *Bridge) Close() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client == nil {
		return
	}
	token := client.Publish(b.cfg.TopicPrefix+"/bridge/state", b.cfg.QoS, true, []byte("offline"))
	token.WaitTimeout(time.Second)
	client.Disconnect(1000)
	log.Info().Msg("MQTT bridge stopped")
}

// Moods is the retained JSON document published on <prefix>/<id>/moods
type Moods struct {
	ZoneID  string `json:"zone_id"`
	Count   int    `json:"count"`
	Updated string `json:"updated"`
}

// HandleEvent publishes retained state for mood_activated and
// moods_synced events. Subscribed to the event bus.
func (b *Bridge) HandleEvent(event eventbus.Event) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return
	}

	topic, payload, err := b.message(event, time.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode MQTT state")
		return
	}
	if topic == "" {
		return
	}
	b.publish(client, topic, payload, true)
}

// message renders the retained topic and document for an event.
// An empty topic means the event is not mirrored to the broker.
func (b *Bridge) message(event eventbus.Event, now time.Time) (string, []byte, error) {
	updated := now.UTC().Format(time.RFC3339)

	switch ev := event.Payload.(type) {
	case eventbus.MoodActivated:
		payload, err := json.Marshal(State{
			MoodID:   ev.MoodID,
			MoodName: ev.MoodName,
			Index:    ev.Index,
			Count:    ev.Count,
			Updated:  updated,
		})
		return StateTopic(b.cfg.TopicPrefix, ev.DeviceID), payload, err
	case eventbus.MoodsSynced:
		payload, err := json.Marshal(Moods{ZoneID: ev.ZoneID, Count: ev.Count, Updated: updated})
		return MoodsTopic(b.cfg.TopicPrefix, ev.DeviceID), payload, err
	}
	return "", nil, nil
}

// ForgetDevice drops the debounce state of a removed device
func (b *Bridge) ForgetDevice(deviceID string) {
	for _, bindings := range b.buttons {
		for _, binding := range bindings {
			if binding.DeviceID == deviceID {
				binding.debounce.Forget(deviceID)
			}
		}
	}
}

// Topics returns the button topics the bridge subscribes to, sorted
func (b *Bridge) Topics() []string {
	topics := make([]string, 0, len(b.buttons))
	for t := range b.buttons {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (b *Bridge) subscribe(c pahomqtt.Client) {
	for _, topic := range b.Topics() {
		bindings := b.buttons[topic]
		c.Subscribe(topic, b.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleButton(msg.Topic(), bindings, msg.Payload())
		})
	}

	setTopic := b.cfg.TopicPrefix + "/+/set"
	c.Subscribe(setTopic, b.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSet(msg.Topic(), msg.Payload())
	})

	log.Info().
		Int("button_topics", len(b.buttons)).
		Str("set_topic", setTopic).
		Msg("MQTT subscriptions active")
}

func (b *Bridge) handleButton(topic string, bindings []Button, payload []byte) {
	action := ButtonAction(payload)
	for _, binding := range bindings {
		if !MatchAction(action, binding.Actions) {
			log.Debug().
				Str("topic", topic).
				Str("device", binding.DeviceID).
				Str("button_action", action).
				Msg("Ignoring button action")
			continue
		}
		if !binding.debounce.Allow(binding.DeviceID) {
			log.Debug().Str("device", binding.DeviceID).Msg("Debounced button press")
			continue
		}
		b.dispatch(actions.ActionButton, binding.DeviceID)
	}
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	deviceID, ok := DeviceFromSetTopic(b.cfg.TopicPrefix, topic)
	if !ok {
		return
	}
	action, ok := ParseCommand(payload)
	if !ok {
		log.Warn().Str("topic", topic).Str("payload", string(payload)).Msg("Unknown MQTT command")
		return
	}
	b.dispatch(action, deviceID)
}

func (b *Bridge) dispatch(action, deviceID string) {
	ok := b.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeAction,
		Payload: eventbus.ActionRequest{
			Action:   action,
			DeviceID: deviceID,
			Source:   "mqtt",
		},
	})
	if !ok {
		log.Warn().Str("device", deviceID).Str("action", action).Msg("Event queue full, dropping MQTT action")
	}
}

func (b *Bridge) publish(c pahomqtt.Client, topic string, payload []byte, retained bool) {
	token := c.Publish(topic, b.cfg.QoS, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Warn().Str("topic", topic).Msg("MQTT publish timeout")
		} else if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish error")
		}
	}()
}

// StateTopic returns the retained state topic of a device
func StateTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/state"
}

// MoodsTopic returns the retained mood list summary topic of a device
func MoodsTopic(prefix, deviceID string) string {
	return prefix + "/" + deviceID + "/moods"
}

// DeviceFromSetTopic extracts the device id from <prefix>/<id>/set
func DeviceFromSetTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ParseCommand maps a set payload to an action name.
// Accepts "cycle", "sync" or {"command": "..."}.
func ParseCommand(payload []byte) (string, bool) {
	cmd := strings.TrimSpace(string(payload))

	var doc struct {
		Command string `json:"command"`
	}
	if strings.HasPrefix(cmd, "{") && json.Unmarshal(payload, &doc) == nil {
		cmd = doc.Command
	}

	switch strings.ToLower(cmd) {
	case "cycle", "next":
		return actions.ActionCycleMood, true
	case "sync":
		return actions.ActionSyncMoods, true
	}
	return "", false
}

// ButtonAction extracts the action of a button payload. JSON payloads
// carry it in the "action" field; anything else is taken verbatim.
func ButtonAction(payload []byte) string {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var doc struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(payload, &doc); err == nil {
			return doc.Action
		}
	}
	return raw
}

// MatchAction reports whether action triggers a binding with the given actions
func MatchAction(action string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == action {
			return true
		}
	}
	return false
}
