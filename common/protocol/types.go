// Package protocol defines the wire types and error taxonomy shared by the
// agent's HTTP+WebSocket API and the controller that drives it.
package protocol

import (
	"encoding/json"
	"net/http"
	"time"
)

// Version is the protocol version published in mDNS TXT records and the
// health response.
const Version = "1.2.0"

// ErrorTag identifies a class of API failure. Tags are stable wire strings;
// the human message alongside them is advisory only.
type ErrorTag string

const (
	ErrUnauthenticated   ErrorTag = "unauthenticated"
	ErrAuthFailed        ErrorTag = "auth_failed"
	ErrTokenExpired      ErrorTag = "token_expired"
	ErrForbidden         ErrorTag = "forbidden"
	ErrIPBlacklisted     ErrorTag = "ip_blacklisted"
	ErrCommandNotAllowed ErrorTag = "command_not_allowed"
	ErrBadRequest        ErrorTag = "bad_request"
	ErrNotFound          ErrorTag = "not_found"
	ErrInternal          ErrorTag = "internal"
)

var tagStatus = map[ErrorTag]int{
	ErrUnauthenticated:   http.StatusUnauthorized,
	ErrAuthFailed:        http.StatusUnauthorized,
	ErrTokenExpired:      http.StatusUnauthorized,
	ErrForbidden:         http.StatusForbidden,
	ErrIPBlacklisted:     http.StatusForbidden,
	ErrCommandNotAllowed: http.StatusForbidden,
	ErrBadRequest:        http.StatusBadRequest,
	ErrNotFound:          http.StatusNotFound,
	ErrInternal:          http.StatusInternalServerError,
}

// Status returns the HTTP status code for an error tag. Unknown tags map to
// 500 so a missing table entry can never turn a failure into a success.
func (t ErrorTag) Status() int {
	if s, ok := tagStatus[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// APIError is the JSON error envelope returned by every failing endpoint.
type APIError struct {
	Error   ErrorTag `json:"error"`
	Message string   `json:"message"`
}

// WriteError serialises the error envelope with the tag's HTTP status.
func WriteError(w http.ResponseWriter, tag ErrorTag, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(tag.Status())
	_ = json.NewEncoder(w).Encode(APIError{Error: tag, Message: message})
}

// WriteJSON serialises a success payload.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// AuthCheckResponse is returned by GET /api/auth/check.
type AuthCheckResponse struct {
	RequiresAuth bool `json:"requires_auth"`
}

// ChallengeResponse is returned by POST /api/auth/challenge. HashParams is
// the verifier prefix ("$argon2id$v=19$m=...,t=...,p=...$<salt>") the client
// needs to derive the HMAC key from the plaintext password. Empty when the
// agent has no password set.
type ChallengeResponse struct {
	Nonce      string `json:"nonce"`
	TTLSeconds int    `json:"ttl_seconds"`
	HashParams string `json:"hash_params,omitempty"`
}

// VerifyRequest is the body of POST /api/auth/verify.
type VerifyRequest struct {
	Nonce    string `json:"nonce"`
	Response string `json:"response"`
}

// TokenResponse is returned on a successful verify.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// CommandRequest is the body of POST /api/command/execute and the
// /api/system/* shortcuts.
type CommandRequest struct {
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
}

// CommandResult carries the outcome of one command execution. A non-zero
// ExitCode is a successful API response. A process that cannot be spawned
// is reported as a result too, with ExitCode -1 and the error in Stderr, not
// as an API error. ExitCode is nil when the process was killed on timeout.
type CommandResult struct {
	Success         bool   `json:"success"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        *int   `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
}

// SystemInfo is returned by GET /api/system/info.
type SystemInfo struct {
	OSType        string  `json:"os_type"`
	OSVersion     string  `json:"os_version"`
	Hostname      string  `json:"hostname"`
	Architecture  string  `json:"architecture"`
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryTotalMB uint64  `json:"memory_total"`
	MemoryUsedMB  uint64  `json:"memory_used"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

// LogRecordWire is one record of the GET /api/logs response and of the
// WebSocket log stream payload.
type LogRecordWire struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// HistoryEntry is one row of GET /api/command/history.
type HistoryEntry struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Command         string    `json:"command"`
	Args            string    `json:"args,omitempty"`
	Source          string    `json:"source,omitempty"`
	Allowed         bool      `json:"allowed"`
	Success         bool      `json:"success"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}
