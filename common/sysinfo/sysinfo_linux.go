//go:build linux

package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

func fillPlatform(info *protocol.SystemInfo) {
	info.OSVersion = prettyName()

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		total := uint64(si.Totalram) * unit
		free := uint64(si.Freeram) * unit
		buffers := uint64(si.Bufferram) * unit
		info.MemoryTotalMB = total / 1024 / 1024
		info.MemoryUsedMB = (total - free - buffers) / 1024 / 1024
		info.UptimeSeconds = uint64(si.Uptime)
	}

	info.CPUUsage = sampleCPU(150 * time.Millisecond)
}

// prettyName reads the distribution name from /etc/os-release.
func prettyName() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return "Linux"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `"'`)
		}
	}
	return "Linux"
}

// sampleCPU takes two /proc/stat readings and returns the busy percentage
// over the interval.
func sampleCPU(interval time.Duration) float64 {
	idle1, total1, ok := readCPUStat()
	if !ok {
		return 0
	}
	time.Sleep(interval)
	idle2, total2, ok := readCPUStat()
	if !ok || total2 <= total1 {
		return 0
	}

	idleDelta := float64(idle2 - idle1)
	totalDelta := float64(total2 - total1)
	return (1 - idleDelta/totalDelta) * 100
}

func readCPUStat() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		for i, field := range fields {
			var v uint64
			if _, err := fmt.Sscanf(field, "%d", &v); err != nil {
				continue
			}
			total += v
			if i == 3 { // idle column
				idle = v
			}
		}
		return idle, total, true
	}
	return 0, 0, false
}
