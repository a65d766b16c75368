//go:build windows

package command

import (
	"os/exec"
	"syscall"
	"time"
)

const createNoWindow = 0x08000000

// configureSysProc hides the console window of spawned commands and gives
// Wait a grace period before the runtime force-kills on cancellation.
func configureSysProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow}
	cmd.WaitDelay = 5 * time.Second
}
