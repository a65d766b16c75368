package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
	"github.com/maxwellnie/lan-device-manager/common/ws"
)

const (
	// wsAuthWindow is how long an upgraded connection may stay unauthorized
	// while waiting for its auth message.
	wsAuthWindow = 10 * time.Second

	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 90 * time.Second
)

// handleWebSocket serves the live log stream. A token may arrive as a
// Bearer header, a "token" query parameter, or a first {"type":"auth"}
// message after the upgrade; until one verifies, no log records flow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	peer := peerFromContext(r.Context())

	authorized := !s.auth.Required()
	if !authorized {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != "" {
			if err := s.auth.VerifyToken(token); err != nil {
				protocol.WriteError(w, protocol.ErrTokenExpired, "token is invalid or expired")
				return
			}
			authorized = true
		}
	}

	conn, err := ws.UpgradeHTTP(w, r)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket", fmt.Sprintf("upgrade failed: %v", err), peer)
		return
	}

	clientID := uuid.NewString()
	s.log.Info("websocket", "log stream client connected", peer)

	if !authorized {
		authorized = s.awaitWSAuth(conn, peer)
		if !authorized {
			conn.Close()
			return
		}
	}

	sub := make(chan ws.Message, ws.SubscriberQueueSize)
	s.hub.Register(clientID, sub)

	done := make(chan struct{})
	go s.wsWritePump(conn, sub, done)
	s.wsReadLoop(conn, peer)

	s.hub.Unregister(clientID)
	<-done
	conn.Close()
	s.log.Info("websocket", "log stream client disconnected", peer)
}

// awaitWSAuth waits for a valid auth message within the auth window.
func (s *Server) awaitWSAuth(conn *ws.Conn, peer string) bool {
	deadline := time.Now().Add(wsAuthWindow)
	conn.SetReadDeadline(deadline)

	for time.Now().Before(deadline) {
		raw, err := conn.ReadMessage()
		if err != nil {
			return false
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case ws.MessageTypePing:
			conn.WriteMessage(&ws.Message{Type: ws.MessageTypePong}, wsWriteTimeout)
		case ws.MessageTypeAuth:
			token, _ := msg.Data["token"].(string)
			if token != "" && s.auth.VerifyToken(token) == nil {
				conn.WriteMessage(&ws.Message{Type: ws.MessageTypeAuthSuccess}, wsWriteTimeout)
				return true
			}
			conn.WriteMessage(&ws.Message{Type: ws.MessageTypeAuthError}, wsWriteTimeout)
			s.log.Warn("websocket", "log stream auth rejected", peer)
			return false
		}
	}
	return false
}

// wsWritePump forwards hub broadcasts to the connection until the
// subscriber channel closes (hub shutdown or slow-consumer drop).
func (s *Server) wsWritePump(conn *ws.Conn, sub <-chan ws.Message, done chan<- struct{}) {
	defer close(done)
	for msg := range sub {
		m := msg
		if err := conn.WriteMessage(&m, wsWriteTimeout); err != nil {
			conn.Close()
			// Drain until the hub closes the channel so Broadcast never
			// sees this subscriber as slow after the conn died.
			for range sub {
			}
			return
		}
	}
	// The hub closed the channel: end the connection so the read loop
	// returns too.
	conn.Close()
}

// wsReadLoop services inbound messages (ping, late auth refreshes) until
// the connection drops.
func (s *Server) wsReadLoop(conn *ws.Conn, peer string) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case ws.MessageTypePing:
			conn.WriteMessage(&ws.Message{Type: ws.MessageTypePong}, wsWriteTimeout)
		case ws.MessageTypeAuth:
			// Already authorized; acknowledge so client retry logic settles.
			conn.WriteMessage(&ws.Message{Type: ws.MessageTypeAuthSuccess}, wsWriteTimeout)
		}
	}
}
