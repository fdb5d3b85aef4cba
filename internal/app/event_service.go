package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
)

// EventService routes action requests from the event bus to the invoker.
type EventService struct {
	invoker *actions.Invoker
	bus     *eventbus.Bus
}

// NewEventService creates a new EventService.
func NewEventService(invoker *actions.Invoker, bus *eventbus.Bus) *EventService {
	return &EventService{invoker: invoker, bus: bus}
}

// Start subscribes the action handler. ctx bounds every invocation.
func (s *EventService) Start(ctx context.Context) {
	s.bus.Subscribe(eventbus.EventTypeAction, func(event eventbus.Event) {
		req, ok := event.Payload.(eventbus.ActionRequest)
		if !ok {
			log.Warn().Str("event_type", string(event.Type)).Msg("Unexpected action payload")
			return
		}
		if ctx.Err() != nil {
			return
		}

		if err := s.invoker.Invoke(ctx, req.Action, req.DeviceID, req.EventID, req.Source); err != nil {
			log.Error().
				Err(err).
				Str("action", req.Action).
				Str("device", req.DeviceID).
				Str("source", req.Source).
				Msg("Action failed")
		}
	})
}
