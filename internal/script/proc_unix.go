//go:build !windows

package script

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group so a timeout can kill
// the shell and everything it spawned together.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup kills the entire process group. Negative PID signals the
// whole group on Unix.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
