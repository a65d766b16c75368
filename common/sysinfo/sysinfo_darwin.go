//go:build darwin

package sysinfo

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

func fillPlatform(info *protocol.SystemInfo) {
	if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
		info.OSVersion = "macOS " + strings.TrimSpace(string(out))
	} else {
		info.OSVersion = "macOS"
	}

	if out, err := exec.Command("sysctl", "-n", "hw.memsize").Output(); err == nil {
		if total, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64); err == nil {
			info.MemoryTotalMB = total / 1024 / 1024
		}
	}
}
