package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/discovery"
)

// DeviceStatus is the reachability classification of a saved device.
type DeviceStatus string

const (
	StatusUnknown DeviceStatus = "unknown"
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// ErrNoCredentials is returned by Connect when the agent requires a
// password, none is cached, and no prompt hook is installed.
var ErrNoCredentials = errors.New("device requires a password and none is available")

// Registry is the controller's device registry: it reconciles discovery
// events into the saved-device store, tracks reachability, and runs the
// credential flow when opening a session.
type Registry struct {
	cfg   ControllerConfig
	store *DeviceStore
	creds *CredentialCache

	// PromptPassword is the UI hook invoked when a device needs a password
	// that is not cached. Nil means non-interactive: Connect fails with
	// ErrNoCredentials instead.
	PromptPassword func(device SavedDevice) (string, error)

	// Logf receives diagnostic messages; nil means silent.
	Logf func(format string, args ...interface{})

	mu     sync.Mutex
	status map[string]DeviceStatus
}

// NewRegistry creates a registry over the given stores.
func NewRegistry(cfg ControllerConfig, store *DeviceStore, creds *CredentialCache) *Registry {
	return &Registry{
		cfg:    cfg,
		store:  store,
		creds:  creds,
		status: make(map[string]DeviceStatus),
	}
}

// Run consumes discovery events until ctx is cancelled. Discovered records
// reconcile saved rows (address and port moves under a stable UUID);
// removals only flip reachability, never delete saved devices.
func (r *Registry) Run(ctx context.Context, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		}
	}
}

func (r *Registry) handleEvent(ev discovery.Event) {
	switch ev.Kind {
	case discovery.EventDiscovered:
		if err := CheckAgentVersion(ev.Record.Version, r.cfg.Agents.VersionConstraint); err != nil {
			r.logf("device %s: %v", ev.Record.Key(), err)
		}

		changed, err := r.store.Reconcile(ev.Record)
		if err != nil {
			r.logf("reconcile %s: %v", ev.Record.Key(), err)
		} else if changed {
			r.logf("device %s moved to %s:%d", ev.Record.Key(), ev.Record.IP, ev.Record.Port)
		}
		r.setStatus(ev.Record.Key(), StatusOnline)

	case discovery.EventRemoved:
		r.setStatus(ev.Record.Key(), StatusOffline)
		r.logf("device %s left the network", ev.Record.Key())
	}
}

// Status returns the current reachability classification for a device.
func (r *Registry) Status(key string) DeviceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.status[key]; ok {
		return s
	}
	return StatusUnknown
}

func (r *Registry) setStatus(key string, s DeviceStatus) {
	r.mu.Lock()
	r.status[key] = s
	r.mu.Unlock()
}

// Refresh probes every saved device in parallel, bounded by the configured
// concurrency, and updates reachability. An agent that answers at all --
// even with an auth error -- is online: reachability is about network
// presence, not authorisation.
func (r *Registry) Refresh(ctx context.Context) {
	devices := r.store.List()
	timeout := time.Duration(r.cfg.Probe.TimeoutMs) * time.Millisecond

	sem := make(chan struct{}, r.cfg.Probe.Concurrency)
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d SavedDevice) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			client := NewAgentClient(d.IP, d.Port, timeout)
			_, err := client.CheckAuth(probeCtx)
			var apiErr *apiError
			if err != nil && !errors.As(err, &apiErr) {
				r.setStatus(d.Key(), StatusOffline)
				return
			}
			r.setStatus(d.Key(), StatusOnline)
		}(d)
	}
	wg.Wait()
}

// Connect opens an authenticated session with a saved device, running the
// credential flow: no auth needed, cached token, cached password, then the
// prompt hook. A cached password the agent rejects is cleared before
// falling through to the prompt.
func (r *Registry) Connect(ctx context.Context, key string) (*AgentClient, error) {
	d, ok := r.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("no saved device %q", key)
	}

	timeout := time.Duration(r.cfg.Probe.TimeoutMs) * time.Millisecond
	client := NewAgentClient(d.IP, d.Port, timeout)

	required, err := client.CheckAuth(ctx)
	if err != nil {
		r.setStatus(key, StatusOffline)
		return nil, err
	}
	r.setStatus(key, StatusOnline)

	if !required {
		r.store.TouchConnected(key)
		return client, nil
	}

	if token, ok := r.creds.ValidToken(d.UUID); ok {
		client.SetToken(token)
		if _, err := client.SystemInfo(ctx); err == nil {
			r.store.TouchConnected(key)
			return client, nil
		}
		// Stale token; fall through to the password path.
		client.SetToken("")
	}

	if cred, ok := r.creds.Get(d.UUID); ok && cred.Password != "" {
		tok, err := client.Authenticate(ctx, cred.Password)
		if err == nil {
			r.creds.SetToken(d.UUID, tok.Token, time.Duration(tok.ExpiresIn)*time.Second)
			r.store.TouchConnected(key)
			return client, nil
		}
		if ClassifyError(err) != ErrorClassAuth {
			return nil, err
		}
		// The saved password no longer works on this device.
		r.creds.ClearPassword(d.UUID)
		r.logf("cached password for %s rejected, cleared", key)
	}

	if r.PromptPassword == nil {
		return nil, ErrNoCredentials
	}
	password, err := r.PromptPassword(d)
	if err != nil {
		return nil, err
	}

	tok, err := client.Authenticate(ctx, password)
	if err != nil {
		return nil, err
	}
	r.creds.SetPassword(d.UUID, password)
	r.creds.SetToken(d.UUID, tok.Token, time.Duration(tok.ExpiresIn)*time.Second)
	r.store.TouchConnected(key)
	return client, nil
}

// DeleteDevice removes a saved device, its cached credentials, and its
// reachability state, flushing both stores.
func (r *Registry) DeleteDevice(key string) error {
	d, ok := r.store.Get(key)
	if !ok {
		return nil
	}

	if _, err := r.store.Delete(key); err != nil {
		return err
	}
	if err := r.creds.Delete(d.UUID); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.status, key)
	r.mu.Unlock()
	return nil
}

func (r *Registry) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
