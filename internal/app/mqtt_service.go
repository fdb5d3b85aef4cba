package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
	"github.com/dokzlo13/moodcycler/internal/mqtt"
)

// MQTTService wraps the MQTT bridge.
type MQTTService struct {
	cfg    *config.Config
	bridge *mqtt.Bridge
	bus    *eventbus.Bus
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config, bus *eventbus.Bus) *MQTTService {
	return &MQTTService{
		cfg:    cfg,
		bridge: mqtt.NewBridge(cfg.MQTT, cfg.Cyclers, bus),
		bus:    bus,
	}
}

// Start connects to the broker if enabled.
func (s *MQTTService) Start(ctx context.Context) error {
	if !s.cfg.MQTT.Enabled {
		log.Debug().Msg("MQTT bridge disabled")
		return nil
	}

	if err := s.bridge.Connect(ctx); err != nil {
		return err
	}
	s.bus.Subscribe(eventbus.EventTypeMoodActivated, s.bridge.HandleEvent)
	s.bus.Subscribe(eventbus.EventTypeMoodsSynced, s.bridge.HandleEvent)

	log.Info().Str("prefix", s.cfg.MQTT.TopicPrefix).Strs("button_topics", s.bridge.Topics()).Msg("MQTT bridge started")
	return nil
}

// ForgetDevice clears per-device bridge state after an unpair.
func (s *MQTTService) ForgetDevice(deviceID string) {
	s.bridge.ForgetDevice(deviceID)
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	s.bridge.Close()
}
