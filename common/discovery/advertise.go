package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// unregisterGrace is how long Stop waits after shutting the mDNS responder
// down. zeroconf sends the goodbye records from inside Shutdown, so the
// responder is already closed during the wait; it does not wait between the
// goodbyes and closing the responder.
// Skipping this wait is what left stale ports in controller caches.
const unregisterGrace = 100 * time.Millisecond

// Advertiser publishes the agent's service record. It is safe for
// concurrent use; re-registration (port or auth changes) is serialised.
type Advertiser struct {
	mu sync.Mutex

	uuid       string
	shortID    string
	deviceName string
	version    string

	port         int
	authRequired bool

	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser for the given identity. Nothing is
// published until Start.
func NewAdvertiser(uuid, shortID, deviceName, version string) *Advertiser {
	return &Advertiser{
		uuid:       uuid,
		shortID:    shortID,
		deviceName: deviceName,
		version:    version,
	}
}

// Start registers the service record with the given port and auth flag.
func (a *Advertiser) Start(port int, authRequired bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("advertiser already running")
	}
	a.port = port
	a.authRequired = authRequired
	return a.registerLocked()
}

// registerLocked registers the record. Called with a.mu held.
func (a *Advertiser) registerLocked() error {
	txt := BuildTXT(a.uuid, a.deviceName, a.version, a.port, a.authRequired)
	server, err := zeroconf.Register(InstanceName(a.shortID), ServiceType, Domain, a.port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	a.server = server
	return nil
}

// Stop unregisters the service. The zeroconf responder sends goodbye
// records on shutdown; we wait unregisterGrace afterwards so they propagate
// before the caller proceeds with teardown.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Advertiser) stopLocked() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	time.Sleep(unregisterGrace)
}

// Update re-registers with a new port or auth flag. A no-op when nothing
// changed or the advertiser is stopped.
func (a *Advertiser) Update(port int, authRequired bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return nil
	}
	if a.port == port && a.authRequired == authRequired {
		return nil
	}
	a.stopLocked()
	a.port = port
	a.authRequired = authRequired
	return a.registerLocked()
}

// Running reports whether a record is currently published.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
