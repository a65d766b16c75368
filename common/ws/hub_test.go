package ws

import (
	"fmt"
	"testing"
	"time"
)

func TestHubRegisterUnregister(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	defer hub.Stop()

	ch := make(chan Message, SubscriberQueueSize)
	hub.Register("client1", ch)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(Message{Type: MessageTypeLog})

	select {
	case msg := <-ch:
		if msg.Type != MessageTypeLog {
			t.Errorf("expected message type %q, got %q", MessageTypeLog, msg.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("did not receive broadcast message")
	}

	hub.Unregister("client1")
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unregister")
	}
}

func TestHubBroadcastOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	defer hub.Stop()

	ch := make(chan Message, SubscriberQueueSize)
	hub.Register("ordered", ch)
	time.Sleep(10 * time.Millisecond)

	const n = 20
	for i := 0; i < n; i++ {
		hub.Broadcast(Message{Type: MessageTypeLog, Data: map[string]interface{}{"seq": i}})
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-ch:
			if got := msg.Data["seq"].(int); got != i {
				t.Fatalf("message %d arrived out of order (seq=%d)", i, got)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("missing message %d", i)
		}
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	defer hub.Stop()

	// Unbuffered channel with no reader: its queue is full immediately.
	slow := make(chan Message)
	fast := make(chan Message, SubscriberQueueSize)
	hub.Register("slow", slow)
	hub.Register("fast", fast)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(Message{Type: MessageTypeLog})
	time.Sleep(50 * time.Millisecond)

	// Slow consumer's channel was closed when its queue overflowed.
	select {
	case _, ok := <-slow:
		if ok {
			t.Error("slow consumer received a message despite full queue")
		}
	default:
		t.Error("slow consumer channel not closed")
	}

	if hub.Count() != 1 {
		t.Errorf("hub has %d subscribers, want 1 after dropping the slow one", hub.Count())
	}

	// The fast consumer still receives.
	select {
	case <-fast:
	case <-time.After(100 * time.Millisecond):
		t.Error("fast consumer did not receive the broadcast")
	}
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	defer hub.Stop()

	const numClients = 5
	channels := make([]chan Message, numClients)
	for i := 0; i < numClients; i++ {
		channels[i] = make(chan Message, SubscriberQueueSize)
		hub.Register(fmt.Sprintf("c%d", i), channels[i])
	}
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast(Message{Type: MessageTypeLog, Data: map[string]interface{}{"value": 42}})

	for i, ch := range channels {
		select {
		case msg := <-ch:
			if msg.Type != MessageTypeLog {
				t.Errorf("client %d: expected type %q, got %q", i, MessageTypeLog, msg.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d: did not receive broadcast message", i)
		}
	}
}

func TestHubStopClosesAll(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch := make(chan Message, SubscriberQueueSize)
	hub.Register("x", ch)
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after hub stop")
	}
}
