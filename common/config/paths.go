// Package config provides shared configuration utilities: platform-scoped
// directories and atomic JSON document persistence.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDirName is the directory name used under the platform's user-scoped
// data and config roots.
const AppDirName = "LanDeviceManager"

// DataDir returns the user-scoped data directory for the given component
// ("agent" or "controller"), creating it if needed. When override is
// non-empty it wins (the --config-dir flag).
func DataDir(component, override string) (string, error) {
	if override != "" {
		dir := filepath.Join(override, component)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("LOCALAPPDATA")
		if baseDir == "" {
			baseDir = os.Getenv("PROGRAMDATA")
		}
		if baseDir == "" {
			return "", os.ErrNotExist
		}
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, "Library", "Application Support")
	default: // Linux and other Unix-like systems
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(homeDir, ".local", "share")
		}
	}

	dir := filepath.Join(baseDir, AppDirName, component)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// LogDir returns the log directory beneath the component's data directory.
func LogDir(component, override string) (string, error) {
	dataDir, err := DataDir(component, override)
	if err != nil {
		return "", err
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", err
	}
	return logDir, nil
}
