// Package sysinfo collects host information for the system-info endpoint.
// Platform differences live in the per-OS files; this file holds the shared
// assembly.
package sysinfo

import (
	"os"
	"runtime"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// Collect gathers the current host's system information. Collection is best
// effort: fields a platform cannot supply are zero, never an error.
func Collect() protocol.SystemInfo {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	info := protocol.SystemInfo{
		OSType:       osType(),
		Hostname:     hostname,
		Architecture: runtime.GOARCH,
	}

	fillPlatform(&info)
	return info
}

func osType() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}
