// Package config owns the agent's persisted configuration: a single JSON
// document written atomically and guarded by one writer mutex. Readers take
// snapshots; mutations go through Update.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	commonconfig "github.com/maxwellnie/lan-device-manager/common/config"
)

// FileName is the config document inside the agent data directory.
const FileName = "config.json"

const (
	DefaultAPIPort       = 8080
	DefaultLogBufferSize = 100
	DefaultLogFileSize   = 10 * 1024 * 1024

	minPort = 1024
	maxPort = 65535
)

// AgentConfig is the persisted agent configuration. Presentation fields the
// GUI shells may write (theme, language, window geometry) are preserved
// verbatim in Extra and ignored by the core.
type AgentConfig struct {
	APIPort           int      `json:"api_port"`
	PasswordHash      string   `json:"password_hash,omitempty"`
	CommandWhitelist  []string `json:"command_whitelist"`
	CustomCommands    []string `json:"custom_commands"`
	IPBlacklist       []string `json:"ip_blacklist"`
	EnableIPBlacklist bool     `json:"enable_ip_blacklist"`
	LogBufferSize     int      `json:"log_buffer_size"`
	EnableLogFile     bool     `json:"enable_log_file"`
	LogFilePath       string   `json:"log_file_path,omitempty"`
	LogFileMaxSize    int64    `json:"log_file_max_size"`
	AutoStartAPI      bool     `json:"auto_start_api"`
	AutoStartOnBoot   bool     `json:"auto_start_on_boot"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Default returns the configuration used on first launch. The whitelist
// starts with the safe built-ins only; "custom" must be opted into.
func Default() AgentConfig {
	return AgentConfig{
		APIPort:          DefaultAPIPort,
		CommandWhitelist: []string{"systeminfo", "tasklist"},
		CustomCommands:   []string{},
		IPBlacklist:      []string{},
		LogBufferSize:    DefaultLogBufferSize,
		LogFileMaxSize:   DefaultLogFileSize,
		AutoStartAPI:     true,
	}
}

// normalize clamps out-of-range fields back to defaults so a hand-edited or
// partially upgraded document can never lock the agent out.
func (c *AgentConfig) normalize() {
	if c.APIPort < minPort || c.APIPort > maxPort {
		c.APIPort = DefaultAPIPort
	}
	if c.LogBufferSize <= 0 {
		c.LogBufferSize = DefaultLogBufferSize
	}
	if c.LogFileMaxSize <= 0 {
		c.LogFileMaxSize = DefaultLogFileSize
	}
	if c.CommandWhitelist == nil {
		c.CommandWhitelist = []string{}
	}
	if c.CustomCommands == nil {
		c.CustomCommands = []string{}
	}
	if c.IPBlacklist == nil {
		c.IPBlacklist = []string{}
	}
}

// Store serialises all mutations of the config document through one mutex
// and persists each change atomically.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  AgentConfig
}

// Load opens (or initialises) the config document in dataDir. Any parseable
// JSON loads successfully; malformed fields fall back to defaults. A file
// whose JSON does not parse at all is an error: silently discarding a
// document that may hold a password hash would be worse than failing.
func Load(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()

	err := commonconfig.LoadJSON(path, &cfg)
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		// The document parsed; a field of the wrong type keeps its default
		// and the remaining fields are still decoded.
	case errors.Is(err, os.ErrNotExist):
		cfg = Default()
		if saveErr := commonconfig.SaveJSON(path, cfg, 0o600); saveErr != nil {
			return nil, fmt.Errorf("write initial config: %w", saveErr)
		}
	case err != nil:
		return nil, err
	}

	cfg.normalize()
	return &Store{path: path, cfg: cfg}, nil
}

// Snapshot returns a deep copy of the current configuration.
func (s *Store) Snapshot() AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.cfg)
}

// Update applies fn to a copy of the config, persists the result, and
// installs it. fn runs under the store lock; it must not block.
func (s *Store) Update(fn func(*AgentConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneConfig(s.cfg)
	fn(&next)
	next.normalize()

	if err := commonconfig.SaveJSON(s.path, next, 0o600); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	s.cfg = next
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func cloneConfig(c AgentConfig) AgentConfig {
	out := c
	out.CommandWhitelist = append(make([]string, 0, len(c.CommandWhitelist)), c.CommandWhitelist...)
	out.CustomCommands = append(make([]string, 0, len(c.CustomCommands)), c.CustomCommands...)
	out.IPBlacklist = append(make([]string, 0, len(c.IPBlacklist)), c.IPBlacklist...)
	if c.Extra != nil {
		out.Extra = make(map[string]interface{}, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
