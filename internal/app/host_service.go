package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/cycler"
	"github.com/dokzlo13/moodcycler/internal/driver"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
	"github.com/dokzlo13/moodcycler/internal/host"
	"github.com/dokzlo13/moodcycler/internal/ledger"
	"github.com/dokzlo13/moodcycler/internal/metrics"
	"github.com/dokzlo13/moodcycler/internal/storage/kv"
)

// HostService wraps the host client, the event bus and the device driver.
type HostService struct {
	cfg *config.Config

	Client *host.Client
	Bus    *eventbus.Bus
	Driver *driver.Driver
}

// NewHostService creates the host client and the driver with every device
// hook routed to the ledger, metrics and the event bus.
func NewHostService(cfg *config.Config, kvm *kv.Manager, l *ledger.Ledger, m *metrics.Metrics) (*HostService, error) {
	client := host.NewClient(host.Options{
		BaseURL:        cfg.Host.URL,
		Token:          cfg.Host.Token,
		Timeout:        cfg.Host.Timeout.Duration(),
		RetryCount:     cfg.Host.RetryCount,
		RetryWait:      cfg.Host.RetryWait.Duration(),
		RetryMaxWait:   cfg.Host.RetryMaxWait.Duration(),
		RateLimitRPS:   cfg.Host.RateLimitRPS,
		ActivationMode: cfg.Host.ActivationMode,
		OnFallback: func(moodID string) {
			m.ObserveFallback()
		},
	})

	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	drv, err := driver.New(client, kvm, deviceHooks(bus, l, m), cfg.Cyclers)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &HostService{
		cfg:    cfg,
		Client: client,
		Bus:    bus,
		Driver: drv,
	}, nil
}

func deviceHooks(bus *eventbus.Bus, l *ledger.Ledger, m *metrics.Metrics) cycler.Hooks {
	appendLedger := func(eventType ledger.EventType, deviceID string, payload map[string]any) {
		if l == nil {
			return
		}
		if err := l.AppendWithSource(eventType, "", "device", deviceID, payload); err != nil {
			log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
		}
	}

	return cycler.Hooks{
		MoodActivated: func(deviceID string, mood cycler.StoredMood, index, count int) {
			appendLedger(ledger.EventMoodActivated, deviceID, map[string]any{
				"mood_id":   mood.ID,
				"mood_name": mood.Name,
				"index":     index,
				"count":     count,
			})
			bus.Publish(eventbus.Event{
				Type: eventbus.EventTypeMoodActivated,
				Payload: eventbus.MoodActivated{
					DeviceID: deviceID,
					MoodID:   mood.ID,
					MoodName: mood.Name,
					Index:    index,
					Count:    count,
				},
			})
		},
		MoodsSynced: func(deviceID, zoneID string, count int, err error) {
			m.ObserveSync(deviceID, count, err)
			if err != nil {
				return
			}
			appendLedger(ledger.EventMoodsSynced, deviceID, map[string]any{
				"zone_id": zoneID,
				"count":   count,
			})
			bus.Publish(eventbus.Event{
				Type:    eventbus.EventTypeMoodsSynced,
				Payload: eventbus.MoodsSynced{DeviceID: deviceID, ZoneID: zoneID, Count: count},
			})
		},
		Cycled: m.ObserveCycle,
	}
}

// Start checks that the host is reachable and initializes every device.
func (s *HostService) Start(ctx context.Context) error {
	if err := s.Client.Ping(ctx); err != nil {
		return fmt.Errorf("host %s: %w", s.cfg.Host.URL, err)
	}
	log.Info().Str("host", s.cfg.Host.URL).Str("activation_mode", s.cfg.Host.ActivationMode).Msg("Connected to host")

	s.Driver.Init(ctx)
	return nil
}

// Close releases all resources.
func (s *HostService) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
