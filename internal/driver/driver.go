// Package driver owns the set of mood cycler devices: the ones declared in
// config and the ones paired at runtime.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/moodcycler/internal/config"
	"github.com/dokzlo13/moodcycler/internal/cycler"
	"github.com/dokzlo13/moodcycler/internal/host"
	"github.com/dokzlo13/moodcycler/internal/lua"
	"github.com/dokzlo13/moodcycler/internal/storage/kv"
)

const registryBucket = "devices"

var (
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDeviceExists     = errors.New("device already exists")
	ErrUnknownZone      = errors.New("unknown zone")
	ErrConfiguredDevice = errors.New("device is declared in config")
)

// Host is the part of the host API the driver needs
type Host interface {
	cycler.Host
	ListZones(ctx context.Context) ([]host.Zone, error)
}

// Registration is the persisted record of a paired device
type Registration struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Filter string `json:"filter,omitempty"`
}

// DeviceInfo is the status API view of one device
type DeviceInfo struct {
	Name   string        `json:"name"`
	Paired bool          `json:"paired"`
	Store  cycler.Status `json:"store"`
}

// Driver manages device lifecycle and pairing
type Driver struct {
	host     Host
	kv       *kv.Manager
	registry kv.Bucket
	hooks    cycler.Hooks

	// OnRemoved is called after a device has been unpaired
	OnRemoved func(deviceID string)

	mu         sync.RWMutex
	devices    map[string]*cycler.Device
	configured map[string]bool
}

// New creates the driver, loading configured devices and previously paired ones.
func New(h Host, kvm *kv.Manager, hooks cycler.Hooks, cyclers []config.CyclerConfig) (*Driver, error) {
	d := &Driver{
		host:       h,
		kv:         kvm,
		registry:   kvm.Bucket(registryBucket, true),
		hooks:      hooks,
		devices:    make(map[string]*cycler.Device),
		configured: make(map[string]bool),
	}

	for _, c := range cyclers {
		filter, err := lua.Compile(c.Filter)
		if err != nil {
			return nil, fmt.Errorf("cycler %s: %w", c.ID, err)
		}
		d.devices[c.ID] = d.newDevice(cycler.Data{ID: c.ID, Name: c.Name, ZoneID: c.Zone, Filter: filter})
		d.configured[c.ID] = true
	}

	ids, err := d.registry.Keys()
	if err != nil {
		return nil, fmt.Errorf("load paired devices: %w", err)
	}
	for _, id := range ids {
		var reg Registration
		if _, err := d.registry.Get(id, &reg); err != nil {
			return nil, fmt.Errorf("load paired device %s: %w", id, err)
		}
		if d.configured[id] {
			log.Warn().Str("device", id).Msg("Paired device shadowed by config, ignoring registration")
			continue
		}
		filter, err := lua.Compile(reg.Filter)
		if err != nil {
			log.Error().Err(err).Str("device", id).Msg("Paired device has an invalid filter, ignoring it")
			filter = nil
		}
		d.devices[id] = d.newDevice(cycler.Data{ID: id, Name: reg.Name, Filter: filter})
	}

	log.Info().Int("configured", len(cyclers)).Int("total", len(d.devices)).Msg("Mood Cycler driver has been initialized")
	return d, nil
}

func (d *Driver) newDevice(data cycler.Data) *cycler.Device {
	return cycler.NewDevice(data, d.kv.Bucket(bucketName(data.ID), true), d.host, d.hooks)
}

func bucketName(id string) string {
	return "device:" + id
}

// Init runs the init hook on every device
func (d *Driver) Init(ctx context.Context) {
	for _, dev := range d.Devices() {
		dev.OnInit(ctx)
	}
}

// Get returns a device by id
func (d *Driver) Get(id string) (*cycler.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dev, ok := d.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return dev, nil
}

// Devices returns all devices sorted by id
func (d *Driver) Devices() []*cycler.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*cycler.Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Zones lists the host's zones
func (d *Driver) Zones(ctx context.Context) ([]host.Zone, error) {
	return d.host.ListZones(ctx)
}

// Pair adds a device for a zone, persists it and runs the first sync.
func (d *Driver) Pair(ctx context.Context, id, name, zoneID, filterExpr string) (*cycler.Device, error) {
	if id == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if name == "" {
		name = "Mood Cycler"
	}

	filter, err := lua.Compile(filterExpr)
	if err != nil {
		return nil, err
	}

	zones, err := d.host.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	if _, ok := host.FindZone(zones, zoneID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}

	d.mu.Lock()
	if _, exists := d.devices[id]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}

	dev := d.newDevice(cycler.Data{ID: id, Name: name, Filter: filter})
	if err := d.seed(dev, zoneID); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if err := d.registry.Store(id, Registration{ID: id, Name: name, Filter: filter.String()}); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("persist registration: %w", err)
	}
	d.devices[id] = dev
	d.mu.Unlock()

	log.Info().Str("device", id).Str("zone", zoneID).Msg("Paired device")

	dev.OnAdded(ctx)
	return dev, nil
}

// seed writes the initial store of a freshly paired device
func (d *Driver) seed(dev *cycler.Device, zoneID string) error {
	bucket := d.kv.Bucket(bucketName(dev.ID()), true)
	if err := bucket.Clear(); err != nil {
		return err
	}
	if err := dev.SetZone(zoneID); err != nil {
		return err
	}
	if err := bucket.Store(cycler.KeyMoods, []cycler.StoredMood{}); err != nil {
		return err
	}
	return bucket.Store(cycler.KeyCurrentIndex, 0)
}

// Unpair removes a paired device and its store
func (d *Driver) Unpair(id string) error {
	d.mu.Lock()
	dev, ok := d.devices[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if d.configured[id] {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfiguredDevice, id)
	}
	delete(d.devices, id)
	d.mu.Unlock()

	if err := dev.OnDeleted(); err != nil {
		return err
	}
	if _, err := d.kv.Delete(bucketName(id)); err != nil {
		return err
	}
	if _, err := d.registry.Delete(id); err != nil {
		return err
	}

	if d.OnRemoved != nil {
		d.OnRemoved(id)
	}
	return nil
}

// Statuses returns the status of every device keyed by id
func (d *Driver) Statuses() (map[string]DeviceInfo, error) {
	out := make(map[string]DeviceInfo)
	for _, dev := range d.Devices() {
		info, err := d.Status(dev.ID())
		if err != nil {
			return nil, err
		}
		out[dev.ID()] = info
	}
	return out, nil
}

// Status returns the status of one device
func (d *Driver) Status(id string) (DeviceInfo, error) {
	dev, err := d.Get(id)
	if err != nil {
		return DeviceInfo{}, err
	}

	st, err := dev.Status()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("device %s: %w", id, err)
	}

	d.mu.RLock()
	paired := !d.configured[id]
	d.mu.RUnlock()

	return DeviceInfo{Name: dev.Name(), Paired: paired, Store: st}, nil
}
