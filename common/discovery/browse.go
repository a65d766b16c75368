package discovery

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// restartGrace is the pause between tearing the browser down and
	// rebuilding it. Multicast group membership does not survive an
	// interface change, so the rebuild must start from a fresh socket.
	restartGrace = 500 * time.Millisecond

	// defaultEntryTTL bounds how long a record stays in the live map
	// without being re-seen when the advertised TTL is unusable.
	defaultEntryTTL = 75 * time.Second

	reapInterval = 1 * time.Second

	eventQueueSize = 128
)

type liveEntry struct {
	rec      Record
	deadline time.Time
}

// Browser subscribes to the service type (and the legacy type) and
// maintains the live map of reachable agents keyed by UUID. Changes are
// delivered on Events.
type Browser struct {
	mu      sync.Mutex
	records map[string]liveEntry
	events  chan Event

	cancel context.CancelFunc
	done   sync.WaitGroup

	// Logf receives diagnostic messages; nil means silent.
	Logf func(format string, args ...interface{})
}

// NewBrowser creates a stopped Browser.
func NewBrowser() *Browser {
	return &Browser{
		records: make(map[string]liveEntry),
		events:  make(chan Event, eventQueueSize),
	}
}

// Events returns the channel carrying discovered/removed events.
func (b *Browser) Events() <-chan Event {
	return b.events
}

// Start begins browsing. It returns immediately; browsing continues until
// ctx is cancelled or Stop/Restart is called.
func (b *Browser) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		cancel()
		return
	}
	b.cancel = cancel
	b.mu.Unlock()

	for _, serviceType := range []string{ServiceType, LegacyServiceType} {
		b.done.Add(1)
		go b.browseLoop(runCtx, serviceType)
	}
	b.done.Add(1)
	go b.reapLoop(runCtx)
}

// Stop tears the browser down. The live map is retained: a stopped browser
// still answers Devices() with the last known state.
func (b *Browser) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.done.Wait()
}

// Restart tears the browser down, waits for the grace period, and rebuilds
// it. Required after the host changes IP networks.
func (b *Browser) Restart(ctx context.Context) {
	b.Stop()
	select {
	case <-time.After(restartGrace):
	case <-ctx.Done():
		return
	}
	b.Start(ctx)
}

// Devices returns a snapshot of the live map.
func (b *Browser) Devices() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Record, 0, len(b.records))
	for _, entry := range b.records {
		out = append(out, entry.rec)
	}
	return out
}

// Lookup returns the live record for a UUID (or legacy instance name).
func (b *Browser) Lookup(key string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.records[key]
	return entry.rec, ok
}

// browseLoop runs one service-type subscription, retrying with backoff on
// resolver errors until ctx is cancelled.
func (b *Browser) browseLoop(ctx context.Context, serviceType string) {
	defer b.done.Done()

	backoff := time.Second
	for ctx.Err() == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			b.logf("mDNS resolver error: %v (retrying in %v)", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		entries := make(chan *zeroconf.ServiceEntry, 16)
		var consumed sync.WaitGroup
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			for e := range entries {
				b.handleEntry(e)
			}
		}()

		b.logf("mDNS browse start: %s", serviceType)
		err = resolver.Browse(ctx, serviceType, Domain, entries)
		consumed.Wait()
		if err != nil {
			b.logf("mDNS browse error: %v (retrying in %v)", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		// Browse returned nil: ctx was cancelled.
		return
	}
}

// handleEntry folds one mDNS entry into the live map. Goodbye records
// (TTL 0) remove; everything else inserts or refreshes.
func (b *Browser) handleEntry(e *zeroconf.ServiceEntry) {
	rec, ok := recordFromEntry(e)
	if !ok {
		return
	}
	if e.TTL == 0 {
		b.remove(rec.Key())
		return
	}

	ttl := time.Duration(e.TTL) * time.Second
	if ttl <= 0 || ttl > defaultEntryTTL {
		ttl = defaultEntryTTL
	}
	b.upsert(rec, ttl)
}

// upsert inserts or replaces a record, emitting a discovered event when the
// reachable coordinates changed. A pure refresh only advances the deadline.
func (b *Browser) upsert(rec Record, ttl time.Duration) {
	rec.LastSeen = time.Now()

	b.mu.Lock()
	prev, existed := b.records[rec.Key()]
	b.records[rec.Key()] = liveEntry{rec: rec, deadline: rec.LastSeen.Add(ttl)}
	b.mu.Unlock()

	if existed && prev.rec.IP == rec.IP && prev.rec.Port == rec.Port &&
		prev.rec.AuthRequired == rec.AuthRequired && prev.rec.DeviceName == rec.DeviceName {
		return
	}
	b.emit(Event{Kind: EventDiscovered, Record: rec})
}

func (b *Browser) remove(key string) {
	b.mu.Lock()
	entry, ok := b.records[key]
	if ok {
		delete(b.records, key)
	}
	b.mu.Unlock()

	if ok {
		b.emit(Event{Kind: EventRemoved, Record: entry.rec})
	}
}

// reapLoop expires records whose TTL lapsed without a refresh.
func (b *Browser) reapLoop(ctx context.Context) {
	defer b.done.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var expired []Record
			b.mu.Lock()
			for key, entry := range b.records {
				if now.After(entry.deadline) {
					delete(b.records, key)
					expired = append(expired, entry.rec)
				}
			}
			b.mu.Unlock()
			for _, rec := range expired {
				b.emit(Event{Kind: EventRemoved, Record: rec})
			}
		}
	}
}

// emit delivers an event without ever blocking the browse path. A saturated
// consumer loses events but the live map stays authoritative.
func (b *Browser) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.logf("discovery event queue full, dropping %v for %s", ev.Kind, ev.Record.Key())
	}
}

func (b *Browser) logf(format string, args ...interface{}) {
	if b.Logf != nil {
		b.Logf(format, args...)
	}
}

// recordFromEntry converts a zeroconf entry into a Record. The UUID comes
// from the TXT map; entries without one fall back to the instance name key.
func recordFromEntry(e *zeroconf.ServiceEntry) (Record, bool) {
	if e == nil {
		return Record{}, false
	}

	txt := ParseTXT(e.Text)

	ip := ""
	for _, addr := range e.AddrIPv4 {
		if !addr.IsLoopback() {
			ip = addr.String()
			break
		}
	}
	if ip == "" {
		for _, addr := range e.AddrIPv6 {
			if !addr.IsLoopback() {
				ip = addr.String()
				break
			}
		}
	}
	if ip == "" && len(e.AddrIPv4) > 0 {
		ip = e.AddrIPv4[0].String()
	}
	if ip == "" {
		return Record{}, false
	}

	port := e.Port
	if port == 0 {
		if p, err := strconv.Atoi(txt[TXTKeyPort]); err == nil {
			port = p
		}
	}

	deviceName := txt[TXTKeyDeviceName]
	if deviceName == "" {
		deviceName = e.Instance
	}

	return Record{
		UUID:         txt[TXTKeyUUID],
		InstanceName: e.ServiceInstanceName(),
		DeviceName:   deviceName,
		IP:           ip,
		Port:         port,
		Version:      txt[TXTKeyVersion],
		AuthRequired: txt[TXTKeyAuthRequired] == "true",
	}, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
