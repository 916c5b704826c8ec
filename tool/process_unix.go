//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tool

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the worker in its own process group so that a
// kill also reaches any helpers the worker spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// killProcessGroup kills every process left in the worker's group, such as a
// background child still holding the output pipes after the worker exited.
func killProcessGroup(pid int) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
