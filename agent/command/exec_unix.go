//go:build !windows

package command

import (
	"os/exec"
	"syscall"
	"time"
)

// configureSysProc puts the child in its own process group so a timeout
// terminates the whole tree, and gives Wait a grace period before the
// runtime force-kills.
func configureSysProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
}
