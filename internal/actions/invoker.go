package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/ledger"
)

// Observer is told about every finished invocation
type Observer func(action, source string, err error)

// Invoker executes actions with ledger-backed deduplication
type Invoker struct {
	registry *Registry
	ledger   *ledger.Ledger
	devices  Devices
	observe  Observer

	mu       sync.Mutex
	inflight map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// NewInvoker creates a new action invoker. ledger and observe may be nil.
func NewInvoker(registry *Registry, l *ledger.Ledger, devices Devices, observe Observer) *Invoker {
	return &Invoker{
		registry: registry,
		ledger:   l,
		devices:  devices,
		observe:  observe,
		inflight: make(map[string]*keyLock),
	}
}

// Invoke executes an action against a device.
//   - webhook calls: idempotencyKey = X-Event-ID header or a generated uuid
//   - mqtt messages and CLI calls: idempotencyKey = "" (no dedupe)
func (i *Invoker) Invoke(ctx context.Context, actionName, deviceID, idempotencyKey, source string) error {
	if idempotencyKey != "" {
		// Deliveries sharing a key run one at a time so the ledger check sees the first result
		unlock := i.lockKey(idempotencyKey)
		defer unlock()
	}

	if idempotencyKey != "" && i.ledger != nil && i.ledger.HasCompleted(idempotencyKey) {
		log.Debug().
			Str("action", actionName).
			Str("idempotency_key", idempotencyKey).
			Msg("Action already completed, skipping")
		return nil
	}

	action, exists := i.registry.Get(actionName)
	if !exists {
		return fmt.Errorf("action %q not found", actionName)
	}

	logEvent := log.Debug().Str("action", actionName).Str("device", deviceID)
	if source != "" {
		logEvent = logEvent.Str("source", source)
	}
	logEvent.Msg("Executing action")

	err := action.Execute(NewContext(ctx, i.devices, deviceID, source))

	if i.observe != nil {
		i.observe(actionName, source, err)
	}

	if err != nil {
		i.appendLedger(ledger.EventActionFailed, idempotencyKey, source, deviceID, map[string]any{
			"action": actionName,
			"error":  err.Error(),
		})
		return err
	}

	i.appendLedger(ledger.EventActionCompleted, idempotencyKey, source, deviceID, map[string]any{
		"action": actionName,
	})
	return nil
}

// HasAction checks if an action is registered
func (i *Invoker) HasAction(actionName string) bool {
	_, exists := i.registry.Get(actionName)
	return exists
}

func (i *Invoker) lockKey(key string) func() {
	i.mu.Lock()
	l, ok := i.inflight[key]
	if !ok {
		l = &keyLock{}
		i.inflight[key] = l
	}
	l.refs++
	i.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		i.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(i.inflight, key)
		}
		i.mu.Unlock()
	}
}

func (i *Invoker) appendLedger(eventType ledger.EventType, idempotencyKey, source, deviceID string, payload map[string]any) {
	if i.ledger == nil {
		return
	}
	if err := i.ledger.AppendWithSource(eventType, idempotencyKey, source, deviceID, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
	}
}
