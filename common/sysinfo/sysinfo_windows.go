//go:build windows

package sysinfo

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

func fillPlatform(info *protocol.SystemInfo) {
	info.OSVersion = wmicValue([]string{"os", "get", "caption", "/value"}, "Caption=")
	if info.OSVersion == "" {
		info.OSVersion = "Windows"
	}

	if raw := wmicValue([]string{"computersystem", "get", "totalphysicalmemory", "/value"}, "TotalPhysicalMemory="); raw != "" {
		if total, err := strconv.ParseUint(raw, 10, 64); err == nil {
			info.MemoryTotalMB = total / 1024 / 1024
		}
	}
	if raw := wmicValue([]string{"os", "get", "freephysicalmemory", "/value"}, "FreePhysicalMemory="); raw != "" {
		if freeKB, err := strconv.ParseUint(raw, 10, 64); err == nil && info.MemoryTotalMB > 0 {
			freeMB := freeKB / 1024
			if freeMB < info.MemoryTotalMB {
				info.MemoryUsedMB = info.MemoryTotalMB - freeMB
			}
		}
	}

	if raw := wmicValue([]string{"cpu", "get", "loadpercentage", "/value"}, "LoadPercentage="); raw != "" {
		if load, err := strconv.ParseFloat(raw, 64); err == nil {
			info.CPUUsage = load
		}
	}
}

// wmicValue runs wmic with the given arguments and extracts the value for
// the "Key=" prefixed line of its key=value output.
func wmicValue(args []string, prefix string) string {
	out, err := exec.Command("wmic", args...).Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
