package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/cycler"
	"github.com/dokzlo13/moodcycler/internal/ledger"
)

// DeviceLister lists every known device
type DeviceLister interface {
	Devices() []*cycler.Device
}

// SyncService runs the periodic tasks: mood resync and ledger cleanup.
type SyncService struct {
	cfg     *config.Config
	devices DeviceLister
	invoker *actions.Invoker
	ledger  *ledger.Ledger
}

// NewSyncService creates a new SyncService.
func NewSyncService(cfg *config.Config, devices DeviceLister, invoker *actions.Invoker, l *ledger.Ledger) *SyncService {
	return &SyncService{
		cfg:     cfg,
		devices: devices,
		invoker: invoker,
		ledger:  l,
	}
}

// Start begins the periodic tasks.
func (s *SyncService) Start(ctx context.Context) {
	if interval := s.cfg.Sync.Interval.Duration(); interval > 0 {
		go s.runResync(ctx, interval)
	} else {
		log.Info().Msg("Periodic mood resync is disabled")
	}

	if s.ledger != nil {
		go s.runLedgerCleanup(ctx)
	}
}

func (s *SyncService) runResync(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Periodic mood resync started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ResyncAll(ctx)
		}
	}
}

// ResyncAll syncs every device once. Failures are logged per device.
func (s *SyncService) ResyncAll(ctx context.Context) int {
	synced := 0
	for _, dev := range s.devices.Devices() {
		if ctx.Err() != nil {
			return synced
		}
		if err := s.invoker.Invoke(ctx, actions.ActionSyncMoods, dev.ID(), "", "resync"); err != nil {
			log.Warn().Err(err).Str("device", dev.ID()).Msg("Periodic resync failed")
			continue
		}
		synced++
	}
	log.Debug().Int("synced", synced).Msg("Periodic resync done")
	return synced
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SyncService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
