package main

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/config"
)

// CredentialsFileName is the credential cache document. It holds secrets,
// so it is written with the restricted-to-user file mode.
const CredentialsFileName = "credentials.json"

// Credential is the cached login state for one device.
type Credential struct {
	Password       string    `json:"password,omitempty"`
	CurrentToken   string    `json:"current_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// CredentialCache maps device UUIDs to cached passwords and tokens. All
// mutations flush to disk under one mutex.
type CredentialCache struct {
	mu    sync.Mutex
	path  string
	creds map[string]Credential
}

// LoadCredentials opens (or initialises) the credential cache in dataDir.
func LoadCredentials(dataDir string) (*CredentialCache, error) {
	path := filepath.Join(dataDir, CredentialsFileName)
	c := &CredentialCache{path: path, creds: make(map[string]Credential)}

	err := config.LoadJSON(path, &c.creds)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if c.creds == nil {
		c.creds = make(map[string]Credential)
	}
	return c, nil
}

// Get returns the cached credential for a device.
func (c *CredentialCache) Get(uuid string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.creds[uuid]
	return cred, ok
}

// SetPassword caches a password that authenticated successfully.
func (c *CredentialCache) SetPassword(uuid, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred := c.creds[uuid]
	cred.Password = password
	c.creds[uuid] = cred
	return c.flushLocked()
}

// SetToken caches a session token and its expiry.
func (c *CredentialCache) SetToken(uuid, token string, expiresIn time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred := c.creds[uuid]
	cred.CurrentToken = token
	cred.TokenExpiresAt = time.Now().Add(expiresIn)
	c.creds[uuid] = cred
	return c.flushLocked()
}

// ValidToken returns a cached token that has not expired yet.
func (c *CredentialCache) ValidToken(uuid string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, ok := c.creds[uuid]
	if !ok || cred.CurrentToken == "" || time.Now().After(cred.TokenExpiresAt) {
		return "", false
	}
	return cred.CurrentToken, true
}

// ClearPassword drops a cached password that the agent rejected, keeping
// any still-valid token.
func (c *CredentialCache) ClearPassword(uuid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, ok := c.creds[uuid]
	if !ok {
		return nil
	}
	cred.Password = ""
	c.creds[uuid] = cred
	return c.flushLocked()
}

// Delete removes every cached secret for a device.
func (c *CredentialCache) Delete(uuid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.creds[uuid]; !ok {
		return nil
	}
	delete(c.creds, uuid)
	return c.flushLocked()
}

// flushLocked persists the cache with owner-only permissions. Called with
// c.mu held.
func (c *CredentialCache) flushLocked() error {
	return config.SaveJSON(c.path, c.creds, 0o600)
}
