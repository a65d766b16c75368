package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maxwellnie/lan-device-manager/agent/auth"
	"github.com/maxwellnie/lan-device-manager/agent/command"
	"github.com/maxwellnie/lan-device-manager/common/logger"
	"github.com/maxwellnie/lan-device-manager/common/protocol"
	"github.com/maxwellnie/lan-device-manager/common/sysinfo"
)

func defaultSysinfoCollect() protocol.SystemInfo {
	return sysinfo.Collect()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	protocol.WriteJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:  "ok",
		Service: s.identity.DisplayName,
		Version: protocol.Version,
	})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	protocol.WriteJSON(w, http.StatusOK, protocol.AuthCheckResponse{
		RequiresAuth: s.auth.Required(),
	})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Required() {
		protocol.WriteError(w, protocol.ErrBadRequest, "authentication is disabled")
		return
	}

	nonce, ttl := s.auth.NewChallenge()
	protocol.WriteJSON(w, http.StatusOK, protocol.ChallengeResponse{
		Nonce:      nonce,
		TTLSeconds: int(ttl.Seconds()),
		HashParams: s.auth.HashParams(),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req protocol.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		protocol.WriteError(w, protocol.ErrBadRequest, "malformed request body")
		return
	}
	if req.Nonce == "" || req.Response == "" {
		protocol.WriteError(w, protocol.ErrBadRequest, "nonce and response are required")
		return
	}

	peer := peerFromContext(r.Context())
	token, lifetime, err := s.auth.Verify(req.Nonce, req.Response, peer)
	if err != nil {
		if errors.Is(err, auth.ErrAuthDisabled) {
			protocol.WriteError(w, protocol.ErrBadRequest, "authentication is disabled")
			return
		}
		s.log.Warn("auth", "challenge verification failed", peer)
		protocol.WriteError(w, protocol.ErrAuthFailed, "authentication failed")
		return
	}

	s.log.Success("auth", "client authenticated", peer)
	protocol.WriteJSON(w, http.StatusOK, protocol.TokenResponse{
		Token:     token,
		ExpiresIn: int64(lifetime.Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := tokenFromContext(r.Context())
	if token != "" {
		s.auth.Revoke(token)
	}
	s.log.Info("auth", "client logged out", peerFromContext(r.Context()))
	protocol.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	s.sysinfoMu.Lock()
	if time.Since(s.sysinfoAt) < sysinfoTTL && !s.sysinfoAt.IsZero() {
		info := s.sysinfo
		s.sysinfoMu.Unlock()
		protocol.WriteJSON(w, http.StatusOK, info)
		return
	}
	s.sysinfoMu.Unlock()

	// Collection samples CPU counters; run it outside the lock.
	info := s.collectSysinfo()

	s.sysinfoMu.Lock()
	s.sysinfo = info
	s.sysinfoAt = time.Now()
	s.sysinfoMu.Unlock()

	protocol.WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req protocol.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		protocol.WriteError(w, protocol.ErrBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		protocol.WriteError(w, protocol.ErrBadRequest, "command is required")
		return
	}
	s.runCommand(w, r, req)
}

// handleSystemAction serves the /api/system/{shutdown,restart,sleep,lock}
// shortcuts. They are ordinary whitelisted commands with a fixed verb.
func (s *Server) handleSystemAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	switch action {
	case "shutdown", "restart", "sleep", "lock":
	default:
		protocol.WriteError(w, protocol.ErrNotFound, "unknown system action")
		return
	}
	s.runCommand(w, r, protocol.CommandRequest{Command: action})
}

// runCommand authorizes and executes a request, logging and recording every
// attempt (rejections included) in the history store.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, req protocol.CommandRequest) {
	peer := peerFromContext(r.Context())
	start := time.Now()

	result, err := s.exec.Execute(r.Context(), req.Command, req.Args, req.TimeoutMs)

	entry := protocol.HistoryEntry{
		Timestamp: start,
		Command:   req.Command,
		Args:      strings.Join(req.Args, " "),
		Source:    peer,
	}

	if err != nil {
		var denied *command.DeniedError
		if errors.As(err, &denied) {
			s.log.Warn("command", fmt.Sprintf("rejected command %q: %s", req.Command, denied.Message), peer)
			s.recordHistory(r, entry)
			protocol.WriteError(w, denied.Tag, denied.Message)
			return
		}
		s.log.Error("command", fmt.Sprintf("command %q failed: %v", req.Command, err), peer)
		s.recordHistory(r, entry)
		protocol.WriteError(w, protocol.ErrInternal, "command execution failed")
		return
	}

	entry.Allowed = true
	entry.Success = result.Success
	entry.ExecutionTimeMs = result.ExecutionTimeMs
	s.recordHistory(r, entry)

	level := logger.LevelSuccess
	if !result.Success {
		level = logger.LevelWarn
	}
	s.log.Append(logger.Record{
		Level:    level,
		Category: "command",
		Message:  fmt.Sprintf("executed %q in %dms", req.Command, result.ExecutionTimeMs),
		Source:   peer,
	})

	protocol.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) recordHistory(r *http.Request, entry protocol.HistoryEntry) {
	if s.history == nil {
		return
	}
	if err := s.history.Add(r.Context(), entry); err != nil {
		s.log.Error("storage", fmt.Sprintf("record command history: %v", err), "")
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			protocol.WriteError(w, protocol.ErrBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var level logger.Level
	if raw := q.Get("level"); raw != "" {
		level = logger.LevelFromString(raw)
	}

	records := s.log.Snapshot(limit, level, q.Get("q"))
	out := make([]protocol.LogRecordWire, 0, len(records))
	for _, rec := range records {
		out = append(out, protocol.LogRecordWire{
			Timestamp: rec.Timestamp,
			Level:     string(rec.Level),
			Category:  rec.Category,
			Message:   rec.Message,
			Source:    rec.Source,
		})
	}
	protocol.WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		protocol.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": []protocol.HistoryEntry{}})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			protocol.WriteError(w, protocol.ErrBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("storage", fmt.Sprintf("query command history: %v", err), "")
		protocol.WriteError(w, protocol.ErrInternal, "history query failed")
		return
	}
	if entries == nil {
		entries = []protocol.HistoryEntry{}
	}
	protocol.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
