package ws

import (
	"sync"
)

// SubscriberQueueSize bounds the per-subscriber broadcast queue. A
// subscriber whose queue fills up is dropped rather than allowed to
// accumulate memory; the write pump sees its channel close and terminates
// the connection.
const SubscriberQueueSize = 50

// Hub fans broadcast messages out to registered subscriber channels. It is
// independent of net/http and gorilla/websocket so tests can drive it with
// plain channels.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]chan Message
	register   chan registration
	unregister chan string
	broadcast  chan Message
	shutdown   chan struct{}
	closeOnce  sync.Once
}

type registration struct {
	id string
	ch chan Message
}

// NewHub creates and starts a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]chan Message),
		register:   make(chan registration),
		unregister: make(chan string),
		broadcast:  make(chan Message, 100),
		shutdown:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.ch
			h.mu.Unlock()
		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[id]; ok {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					// Slow consumer: drop the whole subscriber, not the
					// message, so delivery order stays intact for everyone
					// still connected.
					close(ch)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		case <-h.shutdown:
			h.mu.Lock()
			for id, ch := range h.clients {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register registers a subscriber channel under id. The channel should be
// buffered with SubscriberQueueSize.
func (h *Hub) Register(id string, ch chan Message) {
	select {
	case h.register <- registration{id: id, ch: ch}:
	case <-h.shutdown:
	}
}

// Unregister removes the subscriber with the given id and closes its channel.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.shutdown:
	}
}

// Broadcast queues a message for all subscribers. Non-blocking: if the hub's
// own intake is saturated the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Count reports the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts down the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}
