package main

import (
	"testing"

	"github.com/maxwellnie/lan-device-manager/common/discovery"
)

const testUUID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func newTestStore(t *testing.T) (*DeviceStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	return store, dir
}

func TestDeviceAddAndReload(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := reloaded.Get(testUUID)
	if !ok {
		t.Fatal("device not persisted")
	}
	if d.Name != "desk-pc" || d.IP != "192.168.1.5" || d.Port != 8080 {
		t.Errorf("reloaded device = %+v", d)
	}
	if d.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestReconcileUpdatesMovedDevice(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}

	changed, err := store.Reconcile(discovery.Record{
		UUID: testUUID, DeviceName: "desk-pc", IP: "192.168.1.99", Port: 9090,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("move not detected")
	}

	// Updated exactly, never duplicated -- and the update persisted.
	reloaded, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(reloaded.List()); n != 1 {
		t.Fatalf("device count = %d, want 1", n)
	}
	d, _ := reloaded.Get(testUUID)
	if d.IP != "192.168.1.99" || d.Port != 9090 {
		t.Errorf("coordinates not updated: %+v", d)
	}

	// Re-announcing the same coordinates changes nothing.
	changed, err = store.Reconcile(discovery.Record{
		UUID: testUUID, DeviceName: "desk-pc", IP: "192.168.1.99", Port: 9090,
	})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unchanged record reported as changed")
	}
}

func TestReconcileIgnoresUnknownDevice(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	changed, err := store.Reconcile(discovery.Record{UUID: testUUID, IP: "10.0.0.1", Port: 8080})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unknown device should not be persisted by reconciliation")
	}
	if len(store.List()) != 0 {
		t.Error("reconcile created a row")
	}
}

func TestReconcileMigratesLegacyRow(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	legacyName := "LanDevice-old." + discovery.ServiceType + "." + discovery.Domain
	if err := store.Add(SavedDevice{DisplayID: legacyName, Name: "old-agent", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}

	changed, err := store.Reconcile(discovery.Record{
		UUID:         testUUID,
		InstanceName: legacyName,
		DeviceName:   "old-agent",
		IP:           "192.168.1.5",
		Port:         8080,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("legacy row not migrated")
	}

	if _, ok := store.Get(legacyName); ok {
		t.Error("legacy key still present after migration")
	}
	d, ok := store.Get(testUUID)
	if !ok {
		t.Fatal("migrated row missing under uuid key")
	}
	if d.DisplayID != legacyName {
		t.Errorf("display_id = %q, want the legacy name", d.DisplayID)
	}
	if len(store.List()) != 1 {
		t.Error("migration duplicated the row")
	}
}

func TestDeletePersists(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}

	existed, err := store.Delete(testUUID)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("delete reported missing row")
	}

	reloaded, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.List()) != 0 {
		t.Error("deleted device survived on disk")
	}
}

func TestUpdateName(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateName(testUUID, "Living Room PC"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := reloaded.Get(testUUID)
	if d.CustomName != "Living Room PC" {
		t.Errorf("custom_name = %q", d.CustomName)
	}
}
