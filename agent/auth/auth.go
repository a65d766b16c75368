// Package auth implements the agent's authentication engine: Argon2id
// password storage, the challenge–response handshake, and the bearer
// session-token table.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// Argon2id parameters. The encoded verifier is self-describing, so these can
// change without breaking stored hashes.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

const (
	// ChallengeTTL is how long an issued nonce stays valid.
	ChallengeTTL = 5 * time.Minute

	// TokenLifetime is the sliding validity window of a session token.
	TokenLifetime = time.Hour

	// tokenLifetimeCap bounds how far sliding renewal can push expiry past
	// the issue time.
	tokenLifetimeCap = 12 * TokenLifetime

	// maxSessions caps concurrent sessions; the oldest is evicted.
	maxSessions = 10

	nonceEntropy = 32
	tokenEntropy = 32

	minPasswordLength = 8
)

var (
	// ErrAuthFailed covers unknown nonces, expired nonces, and HMAC
	// mismatches alike; callers get no distinction.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTokenExpired covers unknown and expired tokens.
	ErrTokenExpired = errors.New("token expired")

	// ErrAuthDisabled is returned by Verify when no password is set.
	ErrAuthDisabled = errors.New("authentication is disabled")

	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrWrongPassword    = errors.New("current password is incorrect")
)

// Session is one issued bearer token.
type Session struct {
	IssuedAt   time.Time
	LastSeen   time.Time
	ExpiresAt  time.Time
	ClientAddr string
}

// Manager owns the password verifier, the pending challenge set, and the
// session table. All methods are safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	verifier   string // encoded Argon2id string; empty means auth disabled
	challenges map[string]time.Time
	sessions   map[string]*Session

	now func() time.Time
}

// NewManager creates a Manager seeded with the persisted verifier string
// (empty when no password has been set).
func NewManager(verifier string) *Manager {
	return &Manager{
		verifier:   verifier,
		challenges: make(map[string]time.Time),
		sessions:   make(map[string]*Session),
		now:        time.Now,
	}
}

// Required reports whether a password is set.
func (m *Manager) Required() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifier != ""
}

// HashParams returns the verifier prefix ("$argon2id$v=19$m=..,t=..,p=..$<salt>")
// a client needs to derive the handshake key. Empty when auth is disabled.
func (m *Manager) HashParams() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifier == "" {
		return ""
	}
	idx := strings.LastIndex(m.verifier, "$")
	if idx <= 0 {
		return ""
	}
	return m.verifier[:idx]
}

// SetPassword hashes and installs a new password, revoking every live
// session. The returned verifier string is what the caller persists.
func (m *Manager) SetPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	verifier := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	m.mu.Lock()
	m.verifier = verifier
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	return verifier, nil
}

// ChangePassword verifies the current password before installing the new
// one. All sessions are revoked on success.
func (m *Manager) ChangePassword(oldPassword, newPassword string) (string, error) {
	if !m.VerifyPassword(oldPassword) {
		return "", ErrWrongPassword
	}
	return m.SetPassword(newPassword)
}

// ClearPassword disables authentication and revokes every session.
func (m *Manager) ClearPassword() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifier = ""
	m.sessions = make(map[string]*Session)
}

// VerifyPassword checks a plaintext password against the stored verifier.
func (m *Manager) VerifyPassword(password string) bool {
	m.mu.Lock()
	verifier := m.verifier
	m.mu.Unlock()

	if verifier == "" {
		return false
	}
	idx := strings.LastIndex(verifier, "$")
	if idx <= 0 {
		return false
	}
	derived, err := protocol.DeriveVerifier(password, verifier[:idx])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(verifier)) == 1
}

// NewChallenge issues a fresh single-use nonce. Expired nonces are reaped
// lazily on each issue.
func (m *Manager) NewChallenge() (nonce string, ttl time.Duration) {
	nonce = randomToken(nonceEntropy)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for n, expires := range m.challenges {
		if now.After(expires) {
			delete(m.challenges, n)
		}
	}
	m.challenges[nonce] = now.Add(ChallengeTTL)
	return nonce, ChallengeTTL
}

// Verify consumes the nonce and checks the HMAC response against the stored
// verifier. On success it mints a session token. The nonce is removed on
// every attempt: a failed response burns it.
func (m *Manager) Verify(nonce, response, clientAddr string) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifier == "" {
		return "", 0, ErrAuthDisabled
	}

	expires, known := m.challenges[nonce]
	if known {
		delete(m.challenges, nonce)
	}
	now := m.now()
	if !known || now.After(expires) {
		return "", 0, ErrAuthFailed
	}

	if !protocol.VerifyResponse(m.verifier, nonce, response) {
		return "", 0, ErrAuthFailed
	}

	if len(m.sessions) >= maxSessions {
		m.evictOldestLocked()
	}

	token := randomToken(tokenEntropy)
	m.sessions[token] = &Session{
		IssuedAt:   now,
		LastSeen:   now,
		ExpiresAt:  now.Add(TokenLifetime),
		ClientAddr: clientAddr,
	}
	return token, TokenLifetime, nil
}

// VerifyToken validates a bearer token and slides its expiry forward, up to
// the hard cap past the issue time. When auth is disabled every token (and
// none) is acceptable.
func (m *Manager) VerifyToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifier == "" {
		return nil
	}

	s, ok := m.sessions[token]
	now := m.now()
	if !ok {
		return ErrTokenExpired
	}
	if now.After(s.ExpiresAt) {
		delete(m.sessions, token)
		return ErrTokenExpired
	}

	s.LastSeen = now
	renewed := now.Add(TokenLifetime)
	cap := s.IssuedAt.Add(tokenLifetimeCap)
	if renewed.After(cap) {
		renewed = cap
	}
	// Expiry never moves backward.
	if renewed.After(s.ExpiresAt) {
		s.ExpiresAt = renewed
	}
	return nil
}

// Revoke removes a session token. Reports whether it existed.
func (m *Manager) Revoke(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return false
	}
	delete(m.sessions, token)
	return true
}

// RevokeAll drops every session.
func (m *Manager) RevokeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictOldestLocked drops the oldest session. Called with m.mu held.
func (m *Manager) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for token, s := range m.sessions {
		if oldest == "" || s.IssuedAt.Before(oldestAt) {
			oldest = token
			oldestAt = s.IssuedAt
		}
	}
	if oldest != "" {
		delete(m.sessions, oldest)
	}
}

func randomToken(entropy int) string {
	buf := make([]byte, entropy)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; there is no
		// safe fallback for credential material.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
