package app

import (
	"context"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/db"
	"github.com/dokzlo13/moodcycler/internal/ledger"
	"github.com/dokzlo13/moodcycler/internal/metrics"
	"github.com/dokzlo13/moodcycler/internal/storage/kv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger
	KV      *kv.Manager
	Metrics *metrics.Metrics

	// Action system
	Registry *actions.Registry
	Invoker  *actions.Invoker

	// High-level services
	Host    *HostService
	Events  *EventService
	Sync    *SyncService
	Health  *HealthService
	Webhook *WebhookService
	MQTT    *MQTTService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.KV = kv.NewManager(database.DB)
	s.Metrics = metrics.New()

	s.Host, err = NewHostService(cfg, s.KV, s.Ledger, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Registry = actions.NewRegistry()
	if err := actions.RegisterFlowCards(s.Registry); err != nil {
		s.Close()
		return nil, err
	}
	s.Invoker = actions.NewInvoker(s.Registry, s.Ledger, s.Host.Driver, s.Metrics.ObserveAction)

	s.Events = NewEventService(s.Invoker, s.Host.Bus)
	s.Sync = NewSyncService(cfg, s.Host.Driver, s.Invoker, s.Ledger)
	s.Health = NewHealthService(cfg, s.Host.Client, s.Metrics)
	s.Webhook = NewWebhookService(cfg, s.Host.Driver, s.Ledger, s.Host.Bus)
	s.MQTT = NewMQTTService(cfg, s.Host.Bus)

	s.Host.Driver.OnRemoved = func(deviceID string) {
		s.Metrics.ForgetDevice(deviceID)
		s.MQTT.ForgetDevice(deviceID)
	}

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Host.Start(ctx); err != nil {
		return err
	}

	s.Events.Start(ctx)

	if err := s.MQTT.Start(ctx); err != nil {
		return err
	}

	s.Sync.Start(ctx)
	s.Health.Start(ctx)
	s.Webhook.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Host != nil {
		s.Host.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
