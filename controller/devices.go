package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/config"
	"github.com/maxwellnie/lan-device-manager/common/discovery"
)

// DevicesFileName is the saved-device document in the controller data
// directory.
const DevicesFileName = "devices.json"

// SavedDevice is one persisted device row. UUID is the primary key;
// DisplayID carries the legacy pre-UUID name so old rows can still be
// matched against discovery.
type SavedDevice struct {
	UUID          string    `json:"uuid"`
	DisplayID     string    `json:"display_id,omitempty"`
	Name          string    `json:"name"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	CustomName    string    `json:"custom_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastConnected time.Time `json:"last_connected,omitempty"`
}

// Key returns the reconciliation key: UUID when present, legacy DisplayID
// otherwise.
func (d SavedDevice) Key() string {
	if d.UUID != "" {
		return d.UUID
	}
	return d.DisplayID
}

// DeviceStore persists the saved-device set. One mutex serialises all
// mutations; every mutation is flushed to disk before it returns.
type DeviceStore struct {
	mu      sync.Mutex
	path    string
	devices map[string]SavedDevice
}

// LoadDevices opens (or initialises) the device list in dataDir.
func LoadDevices(dataDir string) (*DeviceStore, error) {
	path := filepath.Join(dataDir, DevicesFileName)
	s := &DeviceStore{path: path, devices: make(map[string]SavedDevice)}

	var rows []SavedDevice
	err := config.LoadJSON(path, &rows)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, d := range rows {
		if d.Key() == "" {
			continue
		}
		s.devices[d.Key()] = d
	}
	return s, nil
}

// List returns the saved devices sorted by name.
func (s *DeviceStore) List() []SavedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SavedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the saved device for a key.
func (s *DeviceStore) Get(key string) (SavedDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[key]
	return d, ok
}

// Add persists a newly discovered device. Adding a key that already exists
// overwrites the row.
func (s *DeviceStore) Add(d SavedDevice) error {
	if d.Key() == "" {
		return fmt.Errorf("device has neither uuid nor display id")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.Key()] = d
	return s.flushLocked()
}

// Reconcile folds a discovery record into the saved set. A record matching
// a saved row by UUID (or legacy name) whose address or port moved updates
// that row in place; the row is never duplicated. Unknown devices are left
// alone: persisting them is an explicit Add. Reports whether anything
// changed.
func (s *DeviceStore) Reconcile(rec discovery.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[rec.Key()]
	changed := false
	if !ok && rec.UUID != "" {
		// A legacy row saved before the agent had a UUID matches by
		// instance name; migrate it to the UUID key.
		if legacy, found := s.devices[rec.InstanceName]; found {
			delete(s.devices, rec.InstanceName)
			legacy.UUID = rec.UUID
			legacy.DisplayID = rec.InstanceName
			d, ok, changed = legacy, true, true
		}
	}
	if !ok {
		return false, nil
	}

	if d.IP != rec.IP && rec.IP != "" {
		d.IP = rec.IP
		changed = true
	}
	if d.Port != rec.Port && rec.Port != 0 {
		d.Port = rec.Port
		changed = true
	}
	if d.Name != rec.DeviceName && rec.DeviceName != "" {
		d.Name = rec.DeviceName
		changed = true
	}
	if !changed {
		return false, nil
	}

	s.devices[d.Key()] = d
	return true, s.flushLocked()
}

// UpdateName sets the user-facing custom name on a saved device.
func (s *DeviceStore) UpdateName(key, customName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[key]
	if !ok {
		return fmt.Errorf("no saved device %q", key)
	}
	d.CustomName = customName
	s.devices[key] = d
	return s.flushLocked()
}

// TouchConnected stamps a successful connection time.
func (s *DeviceStore) TouchConnected(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[key]
	if !ok {
		return nil
	}
	d.LastConnected = time.Now()
	s.devices[key] = d
	return s.flushLocked()
}

// Delete removes a saved device and flushes the list. Reports whether the
// row existed.
func (s *DeviceStore) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[key]; !ok {
		return false, nil
	}
	delete(s.devices, key)
	return true, s.flushLocked()
}

// flushLocked writes the device list atomically. Called with s.mu held.
func (s *DeviceStore) flushLocked() error {
	rows := make([]SavedDevice, 0, len(s.devices))
	for _, d := range s.devices {
		rows = append(rows, d)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	return config.SaveJSON(s.path, rows, 0o600)
}
