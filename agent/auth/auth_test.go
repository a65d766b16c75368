package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(verifier string) (*Manager, *fakeClock) {
	m := NewManager(verifier)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func mustSetPassword(t *testing.T, m *Manager, password string) {
	t.Helper()
	if _, err := m.SetPassword(password); err != nil {
		t.Fatalf("set password: %v", err)
	}
}

// handshake runs the full client-side flow against the manager.
func handshake(t *testing.T, m *Manager, password string) (string, error) {
	t.Helper()
	nonce, _ := m.NewChallenge()
	verifier, err := protocol.DeriveVerifier(password, m.HashParams())
	if err != nil {
		t.Fatalf("derive verifier: %v", err)
	}
	response := protocol.ComputeResponse(verifier, nonce)
	token, _, err := m.Verify(nonce, response, "10.0.0.1:1234")
	return token, err
}

func TestPasswordVerifierFormat(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	verifier, err := m.SetPassword("hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(verifier, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Errorf("verifier not self-describing: %q", verifier)
	}
	if !m.Required() {
		t.Error("auth should be required after set")
	}
	if !m.VerifyPassword("hunter2hunter2") {
		t.Error("correct password rejected")
	}
	if m.VerifyPassword("wrong-password") {
		t.Error("wrong password accepted")
	}
}

func TestPasswordTooShort(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	if _, err := m.SetPassword("short"); err != ErrPasswordTooShort {
		t.Errorf("err = %v, want ErrPasswordTooShort", err)
	}
}

func TestHandshakeSuccess(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if err := m.VerifyToken(token); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestHandshakeWrongPassword(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	if _, err := handshake(t, m, "not-the-password"); err != ErrAuthFailed {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestChallengeSingleUse(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	nonce, _ := m.NewChallenge()
	verifier, err := protocol.DeriveVerifier("hunter2hunter2", m.HashParams())
	if err != nil {
		t.Fatal(err)
	}
	response := protocol.ComputeResponse(verifier, nonce)

	if _, _, err := m.Verify(nonce, response, ""); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	// Same nonce again: consumed.
	if _, _, err := m.Verify(nonce, response, ""); err != ErrAuthFailed {
		t.Errorf("replayed nonce: err = %v, want ErrAuthFailed", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	nonce, ttl := m.NewChallenge()
	verifier, err := protocol.DeriveVerifier("hunter2hunter2", m.HashParams())
	if err != nil {
		t.Fatal(err)
	}
	response := protocol.ComputeResponse(verifier, nonce)

	clock.advance(ttl + time.Second)
	if _, _, err := m.Verify(nonce, response, ""); err != ErrAuthFailed {
		t.Errorf("expired nonce: err = %v, want ErrAuthFailed", err)
	}
}

func TestUnknownNonce(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	if _, _, err := m.Verify("no-such-nonce", "whatever", ""); err != ErrAuthFailed {
		t.Errorf("unknown nonce: err = %v, want ErrAuthFailed", err)
	}
}

func TestTokenExpiryAndSlidingWindow(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")
	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	// Each use inside the window slides expiry forward.
	for i := 0; i < 5; i++ {
		clock.advance(30 * time.Minute)
		if err := m.VerifyToken(token); err != nil {
			t.Fatalf("use %d rejected: %v", i, err)
		}
	}

	// Left unused past the lifetime, the token dies.
	clock.advance(TokenLifetime + time.Minute)
	if err := m.VerifyToken(token); err != ErrTokenExpired {
		t.Errorf("stale token: err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenSlidingCap(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")
	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	// Keep the token hot past the cap: renewal stops advancing and the
	// session eventually expires despite constant use.
	for i := 0; i < 30; i++ {
		clock.advance(30 * time.Minute)
		if err := m.VerifyToken(token); err != nil {
			if err == ErrTokenExpired {
				return
			}
			t.Fatalf("use %d: unexpected error %v", i, err)
		}
	}
	t.Error("token outlived the hard cap despite continuous use")
}

func TestTokenExpiryNeverMovesBackward(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")
	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	// Drive the session to its cap, then keep using it: expiry must hold.
	for i := 0; i < 23; i++ {
		clock.advance(30 * time.Minute)
		if err := m.VerifyToken(token); err != nil {
			t.Fatalf("use %d: %v", i, err)
		}
	}
	m.mu.Lock()
	expiresAt := m.sessions[token].ExpiresAt
	m.mu.Unlock()

	clock.advance(time.Minute)
	if err := m.VerifyToken(token); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	after := m.sessions[token].ExpiresAt
	m.mu.Unlock()
	if after.Before(expiresAt) {
		t.Errorf("expiry moved backward: %v -> %v", expiresAt, after)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")
	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if !m.Revoke(token) {
		t.Fatal("revoke reported token missing")
	}
	if err := m.VerifyToken(token); err != ErrTokenExpired {
		t.Errorf("revoked token: err = %v, want ErrTokenExpired", err)
	}
	if m.Revoke(token) {
		t.Error("second revoke reported success")
	}
}

func TestPasswordChangeInvalidatesTokens(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")
	token, err := handshake(t, m, "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ChangePassword("hunter2hunter2", "new-password-9"); err != nil {
		t.Fatal(err)
	}
	if err := m.VerifyToken(token); err != ErrTokenExpired {
		t.Errorf("token survived password change: err = %v", err)
	}

	if _, err := m.ChangePassword("hunter2hunter2", "whatever-else"); err != ErrWrongPassword {
		t.Errorf("change with stale password: err = %v, want ErrWrongPassword", err)
	}
}

func TestAuthDisabledOpensEverything(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	if m.Required() {
		t.Fatal("auth required with no password")
	}
	if err := m.VerifyToken(""); err != nil {
		t.Errorf("no token with auth disabled: err = %v, want nil", err)
	}
	if _, _, err := m.Verify("nonce", "resp", ""); err != ErrAuthDisabled {
		t.Errorf("verify with auth disabled: err = %v, want ErrAuthDisabled", err)
	}
}

func TestEnablingPasswordInvalidatesInFlight(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	// Open mode: any bearer value passes.
	if err := m.VerifyToken("leftover-token"); err != nil {
		t.Fatal(err)
	}
	mustSetPassword(t, m, "hunter2hunter2")
	if err := m.VerifyToken("leftover-token"); err != ErrTokenExpired {
		t.Errorf("in-flight token after enabling auth: err = %v", err)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager("")
	mustSetPassword(t, m, "hunter2hunter2")

	var first string
	for i := 0; i < maxSessions+1; i++ {
		token, err := handshake(t, m, "hunter2hunter2")
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = token
		}
		clock.advance(time.Second)
	}

	if got := m.SessionCount(); got != maxSessions {
		t.Errorf("session count = %d, want %d", got, maxSessions)
	}
	if err := m.VerifyToken(first); err != ErrTokenExpired {
		t.Errorf("oldest session should have been evicted, err = %v", err)
	}
}

func TestHashParamsRoundTrip(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager("")
	mustSetPassword(t, m, "correct horse battery")

	params := m.HashParams()
	derived, err := protocol.DeriveVerifier("correct horse battery", params)
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	stored := m.verifier
	m.mu.Unlock()
	if derived != stored {
		t.Error("derived verifier differs from stored verifier")
	}
}
