package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ControllerConfig is the controller's behaviour configuration, a TOML file
// in the controller data directory. Unlike the agent's config.json it holds
// no secrets and is meant to be hand-edited.
type ControllerConfig struct {
	Probe     ProbeConfig     `toml:"probe"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Agents    AgentsConfig    `toml:"agents"`
}

// ProbeConfig tunes the reachability loop.
type ProbeConfig struct {
	Concurrency    int `toml:"concurrency"`
	TimeoutMs      int `toml:"timeout_ms"`
	RefreshSeconds int `toml:"refresh_seconds"`
}

// DiscoveryConfig tunes the mDNS browser.
type DiscoveryConfig struct {
	RestartOnNetworkChange bool `toml:"restart_on_network_change"`
}

// AgentsConfig gates which agent versions the controller will talk to.
type AgentsConfig struct {
	// VersionConstraint is a semver range; agents outside it are shown but
	// flagged incompatible.
	VersionConstraint string `toml:"version_constraint"`
}

// ConfigFileName is the TOML document inside the controller data directory.
const ConfigFileName = "controller.toml"

// DefaultControllerConfig returns the configuration used when no file exists.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Probe: ProbeConfig{
			Concurrency:    16,
			TimeoutMs:      3000,
			RefreshSeconds: 30,
		},
		Discovery: DiscoveryConfig{
			RestartOnNetworkChange: true,
		},
		Agents: AgentsConfig{
			VersionConstraint: ">= 1.0.0, < 2.0.0",
		},
	}
}

// LoadControllerConfig reads the TOML config, falling back to defaults when
// the file is missing. Out-of-range fields are clamped, never fatal.
func LoadControllerConfig(dataDir string) (ControllerConfig, error) {
	cfg := DefaultControllerConfig()
	path := filepath.Join(dataDir, ConfigFileName)

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}

	if cfg.Probe.Concurrency <= 0 {
		cfg.Probe.Concurrency = 16
	}
	if cfg.Probe.TimeoutMs <= 0 {
		cfg.Probe.TimeoutMs = 3000
	}
	if cfg.Probe.RefreshSeconds <= 0 {
		cfg.Probe.RefreshSeconds = 30
	}
	return cfg, nil
}
