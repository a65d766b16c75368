// Package server implements the agent's HTTP+WebSocket request pipeline:
// peer-address capture, the IP-blacklist filter, the authentication gate,
// the fixed route table, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/maxwellnie/lan-device-manager/agent/auth"
	"github.com/maxwellnie/lan-device-manager/agent/command"
	"github.com/maxwellnie/lan-device-manager/agent/config"
	"github.com/maxwellnie/lan-device-manager/agent/storage"
	"github.com/maxwellnie/lan-device-manager/common/identity"
	"github.com/maxwellnie/lan-device-manager/common/logger"
	"github.com/maxwellnie/lan-device-manager/common/protocol"
	"github.com/maxwellnie/lan-device-manager/common/ws"
)

const (
	// shutdownGrace is how long in-flight requests get to finish before the
	// listener is torn down hard.
	shutdownGrace = 10 * time.Second

	// sysinfoTTL caches the system-info response; collection samples CPU
	// counters and is too expensive to run per request.
	sysinfoTTL = 5 * time.Minute
)

type ctxKey int

const (
	ctxKeyPeer ctxKey = iota
	ctxKeyToken
)

// peerFromContext returns the bare peer address captured by the pipeline.
func peerFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(ctxKeyPeer).(string)
	return addr
}

// tokenFromContext returns the bearer token accepted by the auth gate.
func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ctxKeyToken).(string)
	return token
}

// Server is the agent's API server. All fields are set at construction.
type Server struct {
	identity *identity.DeviceIdentity
	cfg      *config.Store
	auth     *auth.Manager
	exec     *command.Executor
	log      *logger.Logger
	history  *storage.HistoryStore
	hub      *ws.Hub

	httpSrv *http.Server

	sysinfoMu sync.Mutex
	sysinfo   protocol.SystemInfo
	sysinfoAt time.Time

	collectSysinfo func() protocol.SystemInfo
}

// New assembles the server and wires the logger's record callback into the
// WebSocket hub so every appended record reaches live subscribers in order.
func New(id *identity.DeviceIdentity, cfg *config.Store, authMgr *auth.Manager,
	exec *command.Executor, log *logger.Logger, history *storage.HistoryStore) *Server {

	s := &Server{
		identity:       id,
		cfg:            cfg,
		auth:           authMgr,
		exec:           exec,
		log:            log,
		history:        history,
		hub:            ws.NewHub(),
		collectSysinfo: defaultSysinfoCollect,
	}

	log.SetOnRecord(func(rec logger.Record) {
		s.hub.Broadcast(ws.Message{
			Type:      ws.MessageTypeLog,
			Timestamp: rec.Timestamp,
			Data: map[string]interface{}{
				"timestamp": rec.Timestamp,
				"level":     string(rec.Level),
				"category":  rec.Category,
				"message":   rec.Message,
				"source":    rec.Source,
			},
		})
	})

	return s
}

// Handler builds the full pipeline: route table inside, peer capture and
// blacklist outside, so no handler ever sees a blacklisted peer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)
	mux.HandleFunc("POST /api/auth/challenge", s.handleChallenge)
	mux.HandleFunc("POST /api/auth/verify", s.handleVerify)
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/system/info", s.requireAuth(s.handleSystemInfo))
	mux.HandleFunc("POST /api/command/execute", s.requireAuth(s.handleExecute))
	mux.HandleFunc("POST /api/system/{action}", s.requireAuth(s.handleSystemAction))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("GET /api/command/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		protocol.WriteError(w, protocol.ErrNotFound, "unknown route")
	})

	return s.withPeer(s.withBlacklist(mux))
}

// withPeer attaches the bare peer address to the request context.
func (s *Server) withPeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxKeyPeer, peerIP(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withBlacklist rejects blacklisted peers before any routing happens.
func (s *Server) withBlacklist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.Snapshot()
		peer := peerFromContext(r.Context())
		if cfg.EnableIPBlacklist && blacklisted(peer, cfg.IPBlacklist) {
			s.log.Warn("security", fmt.Sprintf("blocked request to %s from blacklisted address", r.URL.Path), peer)
			protocol.WriteError(w, protocol.ErrIPBlacklisted, "address is blacklisted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth enforces the bearer-token gate. When no password is set the
// agent is public and every request passes.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Required() {
			next(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			protocol.WriteError(w, protocol.ErrUnauthenticated, "authentication required")
			return
		}
		if err := s.auth.VerifyToken(token); err != nil {
			protocol.WriteError(w, protocol.ErrTokenExpired, "token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyToken, token)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// Start begins serving on the given port. It returns once the listener is
// bound; serving continues until Shutdown.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", port, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server", fmt.Sprintf("serve: %v", err), "")
		}
	}()

	s.log.System("server", fmt.Sprintf("API server listening on port %d", port))
	return nil
}

// Shutdown stops accepting connections, lets in-flight requests finish
// within the grace period, and closes the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	err := s.httpSrv.Shutdown(graceCtx)
	if err != nil {
		s.httpSrv.Close()
	}
	s.httpSrv = nil
	s.log.System("server", "API server stopped")
	return err
}

// Hub exposes the broadcast hub (the log stream fan-out).
func (s *Server) Hub() *ws.Hub {
	return s.hub
}
