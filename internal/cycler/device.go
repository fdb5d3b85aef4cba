// Package cycler implements the mood cycler device: a zone-bound list of moods
// with a cursor that advances on every button press.
package cycler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/host"
	"github.com/dokzlo13/moodcycler/internal/lua"
	"github.com/dokzlo13/moodcycler/internal/storage/kv"
)

// Store keys
const (
	KeyMoods        = "moods"
	KeyCurrentIndex = "currentIndex"
	KeyLastSync     = "lastSync"
	KeyZoneID       = "zoneId"
)

var (
	// ErrNoMoods is returned by CycleMood when nothing has been synced for the zone.
	ErrNoMoods = errors.New("no moods synced, run sync first")
	// ErrNoZone is returned when a device has neither a configured nor a stored zone.
	ErrNoZone = errors.New("no zone configured for this device")
)

// Host is the part of the host API a device needs
type Host interface {
	ListMoods(ctx context.Context) ([]host.Mood, error)
	ActivateMood(ctx context.Context, moodID string) error
}

// StoredMood is the persisted form of a mood
type StoredMood struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status is a snapshot of a device's store
type Status struct {
	ZoneID       string       `json:"zoneId"`
	Moods        []StoredMood `json:"moods"`
	CurrentIndex int          `json:"currentIndex"`
	LastSync     *string      `json:"lastSync"`
}

// Data is the immutable identity of a device
type Data struct {
	ID     string
	Name   string
	ZoneID string // set for configured devices; paired devices keep their zone in the store
	Filter *lua.Filter
}

// Hooks are optional callbacks fired after state changes
type Hooks struct {
	MoodActivated func(deviceID string, mood StoredMood, index, count int)
	MoodsSynced   func(deviceID, zoneID string, count int, err error)
	Cycled        func(deviceID string, err error)
}

// Device is a mood cycler bound to one zone
type Device struct {
	data  Data
	store kv.Bucket
	host  Host
	hooks Hooks
	now   func() time.Time

	// Serialises sync and cycle so the cursor is never advanced twice from the same value
	mu sync.Mutex
}

// NewDevice creates a device over its store bucket
func NewDevice(data Data, store kv.Bucket, h Host, hooks Hooks) *Device {
	return &Device{
		data:  data,
		store: store,
		host:  h,
		hooks: hooks,
		now:   time.Now,
	}
}

// ID returns the device id
func (d *Device) ID() string { return d.data.ID }

// Name returns the device display name
func (d *Device) Name() string { return d.data.Name }

// Next advances the cursor: (index + 1) mod len(moods).
// A negative index counts as 0. moods must not be empty.
func Next(moods []StoredMood, index int) (int, StoredMood) {
	if index < 0 {
		index = 0
	}
	next := (index + 1) % len(moods)
	return next, moods[next]
}

// ZoneID returns the device data zone, falling back to the stored zone.
func (d *Device) ZoneID() (string, error) {
	if d.data.ZoneID != "" {
		return d.data.ZoneID, nil
	}

	var zoneID string
	if _, err := d.store.Get(KeyZoneID, &zoneID); err != nil {
		return "", err
	}
	if zoneID != "" {
		return zoneID, nil
	}

	log.Error().Str("device", d.data.ID).Msg("No zone ID found for device")
	return "", ErrNoZone
}

// SetZone stores the zone for a device that has none in its data.
func (d *Device) SetZone(zoneID string) error {
	return d.store.Store(KeyZoneID, zoneID)
}

// SyncMoods fetches the host's moods for this device's zone and stores them.
func (d *Device) SyncMoods(ctx context.Context) ([]StoredMood, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	zoneID, err := d.ZoneID()
	if err != nil {
		d.syncDone("", 0, err)
		return nil, err
	}

	moods, err := d.syncMoods(ctx, zoneID)
	if err != nil {
		log.Error().Err(err).Str("device", d.data.ID).Str("zone", zoneID).Msg("Failed to sync moods")
		d.syncDone(zoneID, 0, err)
		return nil, err
	}

	d.syncDone(zoneID, len(moods), nil)
	return moods, nil
}

func (d *Device) syncMoods(ctx context.Context, zoneID string) ([]StoredMood, error) {
	log.Info().Str("device", d.data.ID).Str("zone", zoneID).Msg("Syncing moods")

	all, err := d.host.ListMoods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list moods: %w", err)
	}

	inZone, err := d.data.Filter.Apply(ctx, host.FilterByZone(all, zoneID))
	if err != nil {
		return nil, err
	}

	moods := make([]StoredMood, len(inZone))
	for i, m := range inZone {
		moods[i] = StoredMood{ID: m.ID, Name: m.Name}
	}

	if err := d.store.Store(KeyMoods, moods); err != nil {
		return nil, err
	}
	if err := d.store.Store(KeyLastSync, d.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	// Reset index if it's out of bounds
	index, err := d.currentIndex()
	if err != nil {
		return nil, err
	}
	if index >= len(moods) {
		if err := d.store.Store(KeyCurrentIndex, 0); err != nil {
			return nil, err
		}
	}

	log.Info().Str("device", d.data.ID).Str("zone", zoneID).Int("count", len(moods)).Msg("Synced moods")
	for i, m := range moods {
		log.Debug().Str("device", d.data.ID).Msgf("  %d. %s", i+1, m.Name)
	}

	return moods, nil
}

func (d *Device) syncDone(zoneID string, count int, err error) {
	if d.hooks.MoodsSynced != nil {
		d.hooks.MoodsSynced(d.data.ID, zoneID, count, err)
	}
}

// CycleMood activates the next mood in the list.
// The cursor is persisted only after the host accepted the activation.
func (d *Device) CycleMood(ctx context.Context) (StoredMood, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mood, err := d.cycleMood(ctx)
	if d.hooks.Cycled != nil {
		d.hooks.Cycled(d.data.ID, err)
	}
	return mood, err
}

func (d *Device) cycleMood(ctx context.Context) (StoredMood, error) {
	moods, err := d.moods()
	if err != nil {
		return StoredMood{}, err
	}
	if len(moods) == 0 {
		log.Info().Str("device", d.data.ID).Msg("No moods synced. Please run sync first.")
		return StoredMood{}, ErrNoMoods
	}

	index, err := d.currentIndex()
	if err != nil {
		return StoredMood{}, err
	}

	nextIndex, nextMood := Next(moods, index)

	log.Info().
		Str("device", d.data.ID).
		Str("mood", nextMood.Name).
		Msgf("Cycling mood: %s (%d/%d)", nextMood.Name, nextIndex+1, len(moods))

	if err := d.host.ActivateMood(ctx, nextMood.ID); err != nil {
		log.Error().Err(err).Str("device", d.data.ID).Str("mood", nextMood.Name).Msg("Failed to activate mood")
		return StoredMood{}, fmt.Errorf("activate mood %q: %w", nextMood.Name, err)
	}

	if err := d.store.Store(KeyCurrentIndex, nextIndex); err != nil {
		return StoredMood{}, err
	}

	log.Info().Str("device", d.data.ID).Str("mood", nextMood.Name).Msg("Activated mood")

	if d.hooks.MoodActivated != nil {
		d.hooks.MoodActivated(d.data.ID, nextMood, nextIndex, len(moods))
	}

	return nextMood, nil
}

// Status returns zone, moods, cursor and last sync time
func (d *Device) Status() (Status, error) {
	st := Status{Moods: []StoredMood{}}

	zoneID, err := d.ZoneID()
	if err != nil && !errors.Is(err, ErrNoZone) {
		return st, err
	}
	st.ZoneID = zoneID

	if st.Moods, err = d.moods(); err != nil {
		return st, err
	}
	if st.CurrentIndex, err = d.currentIndex(); err != nil {
		return st, err
	}

	var lastSync string
	found, err := d.store.Get(KeyLastSync, &lastSync)
	if err != nil {
		return st, err
	}
	if found && lastSync != "" {
		st.LastSync = &lastSync
	}

	return st, nil
}

// OnInit runs an initial sync when nothing is stored yet. Failures are logged.
func (d *Device) OnInit(ctx context.Context) {
	log.Info().Str("device", d.data.ID).Msg("Mood Cycler device has been initialized")

	moods, err := d.moods()
	if err != nil {
		log.Error().Err(err).Str("device", d.data.ID).Msg("Failed to read stored moods")
		return
	}
	if len(moods) > 0 {
		return
	}

	log.Info().Str("device", d.data.ID).Msg("No moods stored, running initial sync...")
	if _, err := d.SyncMoods(ctx); err != nil {
		log.Error().Err(err).Str("device", d.data.ID).Msg("Initial sync failed")
	}
}

// OnAdded syncs immediately after the device is paired. Failures are logged.
func (d *Device) OnAdded(ctx context.Context) {
	log.Info().Str("device", d.data.ID).Msg("Mood Cycler device has been added")

	if _, err := d.SyncMoods(ctx); err != nil {
		log.Error().Err(err).Str("device", d.data.ID).Msg("Failed to sync moods on add")
		return
	}
	log.Info().Str("device", d.data.ID).Msg("Initial mood sync completed")
}

// OnDeleted wipes the device store
func (d *Device) OnDeleted() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Info().Str("device", d.data.ID).Msg("Mood Cycler device has been deleted")
	return d.store.Clear()
}

func (d *Device) moods() ([]StoredMood, error) {
	var moods []StoredMood
	if _, err := d.store.Get(KeyMoods, &moods); err != nil {
		return nil, err
	}
	if moods == nil {
		moods = []StoredMood{}
	}
	return moods, nil
}

func (d *Device) currentIndex() (int, error) {
	var index int
	if _, err := d.store.Get(KeyCurrentIndex, &index); err != nil {
		return 0, err
	}
	return index, nil
}
