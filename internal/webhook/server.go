package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/actions"
	"github.com/dokzlo13/moodcycler/internal/driver"
	"github.com/dokzlo13/moodcycler/internal/eventbus"
	"github.com/dokzlo13/moodcycler/internal/host"
	"github.com/dokzlo13/moodcycler/internal/ledger"
)

// EventIDHeader carries a caller-chosen idempotency key
const EventIDHeader = "X-Event-ID"

// Devices exposes the device status API
type Devices interface {
	Statuses() (map[string]driver.DeviceInfo, error)
	Status(id string) (driver.DeviceInfo, error)
	Zones(ctx context.Context) ([]host.Zone, error)
}

// History exposes recent ledger entries for a device
type History interface {
	GetByDevice(deviceID string, limit int) ([]*ledger.Entry, error)
}

// Publisher accepts events for asynchronous handling
type Publisher interface {
	Publish(event eventbus.Event) bool
}

// verbs maps URL verbs to registered action names
var verbs = map[string]string{
	"cycle":  actions.ActionCycleMood,
	"sync":   actions.ActionSyncMoods,
	"button": actions.ActionButton,
}

// Server is an HTTP server that exposes device status and turns
// action requests into events on the bus.
type Server struct {
	addr       string
	devices    Devices
	history    History
	bus        Publisher
	httpServer *http.Server
}

// NewServer creates a new webhook server. history may be nil.
func NewServer(host string, port int, devices Devices, history History, bus Publisher) *Server {
	return &Server{
		addr:    fmt.Sprintf("%s:%d", host, port),
		devices: devices,
		history: history,
		bus:     bus,
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.handleDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/{verb:cycle|sync|button}", s.handleAction).Methods(http.MethodPost)
	api.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)

	return r
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.devices.Statuses()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.devices.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.devices.Status(id); err != nil {
		writeError(w, err)
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.GetByDevice(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"event":     e.EventType,
			"timestamp": e.Timestamp.Format(time.RFC3339),
			"source":    e.Source,
			"payload":   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.devices.Zones(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

// handleAction publishes an action request to the bus and answers 202
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	action := verbs[vars["verb"]]

	if _, err := s.devices.Status(id); err != nil {
		writeError(w, err)
		return
	}

	eventID := r.Header.Get(EventIDHeader)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("action", action).
		Str("event_id", eventID).
		Msg("Received webhook request")

	ok := s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeAction,
		Payload: eventbus.ActionRequest{
			Action:   action,
			DeviceID: id,
			EventID:  eventID,
			Source:   "webhook",
		},
	})
	if !ok {
		http.Error(w, "event queue full", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"action":   action,
		"event_id": eventID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, driver.ErrUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, host.ErrUnauthorized), errors.Is(err, host.ErrMissingPermission):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
