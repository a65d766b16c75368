//go:build !linux && !windows && !darwin

package sysinfo

import (
	"runtime"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

func fillPlatform(info *protocol.SystemInfo) {
	info.OSVersion = runtime.GOOS
}
