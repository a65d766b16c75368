package main

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	agentauth "github.com/maxwellnie/lan-device-manager/agent/auth"
	"github.com/maxwellnie/lan-device-manager/agent/command"
	agentconfig "github.com/maxwellnie/lan-device-manager/agent/config"
	"github.com/maxwellnie/lan-device-manager/agent/server"
	"github.com/maxwellnie/lan-device-manager/common/discovery"
	"github.com/maxwellnie/lan-device-manager/common/identity"
	"github.com/maxwellnie/lan-device-manager/common/logger"
)

// startTestAgent runs a real agent pipeline on a loopback listener and
// returns its address. password may be empty for a public agent.
func startTestAgent(t *testing.T, password string) (string, int) {
	t.Helper()

	cfgStore, err := agentconfig.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	authMgr := agentauth.NewManager("")
	if password != "" {
		if _, err := authMgr.SetPassword(password); err != nil {
			t.Fatal(err)
		}
	}

	exec := command.NewExecutor(func() command.Whitelist {
		snap := cfgStore.Snapshot()
		return command.Whitelist{Commands: snap.CommandWhitelist, CustomCommands: snap.CustomCommands}
	})

	log := logger.New(50, logger.FileSinkConfig{})
	log.SetConsoleOutput(false)

	id := &identity.DeviceIdentity{UUID: testUUID, DisplayName: "test-agent"}
	srv := server.New(id, cfgStore, authMgr, exec, log, nil)
	t.Cleanup(srv.Hub().Stop)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	addr := ts.Listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func newTestRegistry(t *testing.T) (*Registry, *DeviceStore, *CredentialCache) {
	t.Helper()

	dir := t.TempDir()
	store, err := LoadDevices(dir)
	if err != nil {
		t.Fatal(err)
	}
	creds, err := LoadCredentials(dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(DefaultControllerConfig(), store, creds), store, creds
}

func TestConnectPublicAgent(t *testing.T) {
	t.Parallel()

	ip, port := startTestAgent(t, "")
	registry, store, _ := newTestRegistry(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "test-agent", IP: ip, Port: port}); err != nil {
		t.Fatal(err)
	}

	client, err := registry.Connect(context.Background(), testUUID)
	if err != nil {
		t.Fatal(err)
	}
	if client.Token() != "" {
		t.Error("public agent should not need a token")
	}
	if registry.Status(testUUID) != StatusOnline {
		t.Error("connected device should be online")
	}

	d, _ := store.Get(testUUID)
	if d.LastConnected.IsZero() {
		t.Error("last_connected not stamped")
	}
}

func TestConnectWithPrompt(t *testing.T) {
	t.Parallel()

	ip, port := startTestAgent(t, "hunter2hunter2")
	registry, store, creds := newTestRegistry(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "test-agent", IP: ip, Port: port}); err != nil {
		t.Fatal(err)
	}

	prompts := 0
	registry.PromptPassword = func(d SavedDevice) (string, error) {
		prompts++
		return "hunter2hunter2", nil
	}

	client, err := registry.Connect(context.Background(), testUUID)
	if err != nil {
		t.Fatal(err)
	}
	if client.Token() == "" {
		t.Fatal("no token after handshake")
	}
	if prompts != 1 {
		t.Errorf("prompted %d times, want 1", prompts)
	}

	// The password and token are now cached: a second connect needs no
	// prompt.
	cred, ok := creds.Get(testUUID)
	if !ok || cred.Password != "hunter2hunter2" || cred.CurrentToken == "" {
		t.Fatalf("credential not cached: %+v", cred)
	}
	if _, err := registry.Connect(context.Background(), testUUID); err != nil {
		t.Fatal(err)
	}
	if prompts != 1 {
		t.Errorf("cached connect prompted again (%d prompts)", prompts)
	}
}

func TestConnectClearsRejectedPassword(t *testing.T) {
	t.Parallel()

	ip, port := startTestAgent(t, "hunter2hunter2")
	registry, store, creds := newTestRegistry(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "test-agent", IP: ip, Port: port}); err != nil {
		t.Fatal(err)
	}
	creds.SetPassword(testUUID, "stale-password")

	_, err := registry.Connect(context.Background(), testUUID)
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials after the stale password fails", err)
	}

	cred, _ := creds.Get(testUUID)
	if cred.Password != "" {
		t.Error("rejected password not cleared from the cache")
	}
}

func TestRefreshClassifiesReachability(t *testing.T) {
	t.Parallel()

	ip, port := startTestAgent(t, "hunter2hunter2")
	registry, store, _ := newTestRegistry(t)

	// One live agent (auth required but reachable => online), one dead port.
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "live", IP: ip, Port: port}); err != nil {
		t.Fatal(err)
	}
	deadUUID := "99999999-8888-7777-6666-555555555555"
	if err := store.Add(SavedDevice{UUID: deadUUID, Name: "dead", IP: "127.0.0.1", Port: 1}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.Refresh(ctx)

	if got := registry.Status(testUUID); got != StatusOnline {
		t.Errorf("live agent status = %s, want online", got)
	}
	if got := registry.Status(deadUUID); got != StatusOffline {
		t.Errorf("dead agent status = %s, want offline", got)
	}
}

func TestRegistryEventFlow(t *testing.T) {
	t.Parallel()

	registry, store, _ := newTestRegistry(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan discovery.Event, 4)
	go registry.Run(ctx, events)

	events <- discovery.Event{Kind: discovery.EventDiscovered, Record: discovery.Record{
		UUID: testUUID, DeviceName: "desk-pc", IP: "192.168.1.99", Port: 9090, Version: "1.2.0",
	}}
	events <- discovery.Event{Kind: discovery.EventRemoved, Record: discovery.Record{UUID: testUUID}}

	deadline := time.After(2 * time.Second)
	for registry.Status(testUUID) != StatusOffline {
		select {
		case <-deadline:
			t.Fatal("removal event not processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The discovered event reconciled the move; the removal did not delete
	// the saved row.
	d, ok := store.Get(testUUID)
	if !ok {
		t.Fatal("saved device deleted by a removal event")
	}
	if d.IP != "192.168.1.99" || d.Port != 9090 {
		t.Errorf("move not reconciled: %+v", d)
	}
}

func TestDeleteDeviceClearsCredentials(t *testing.T) {
	t.Parallel()

	registry, store, creds := newTestRegistry(t)
	if err := store.Add(SavedDevice{UUID: testUUID, Name: "desk-pc", IP: "192.168.1.5", Port: 8080}); err != nil {
		t.Fatal(err)
	}
	creds.SetPassword(testUUID, "hunter2")

	if err := registry.DeleteDevice(testUUID); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get(testUUID); ok {
		t.Error("device row survived delete")
	}
	if _, ok := creds.Get(testUUID); ok {
		t.Error("credential survived delete")
	}
	if registry.Status(testUUID) != StatusUnknown {
		t.Error("status entry survived delete")
	}
}
