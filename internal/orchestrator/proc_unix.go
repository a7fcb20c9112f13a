//go:build !windows

package orchestrator

import (
	"os/exec"
	"syscall"
)

// Escalation signals. TERM first, KILL after the grace period.
const (
	termSignal = syscall.SIGTERM
	killSignal = syscall.SIGKILL
)

// setProcAttr puts the child in its own process group so it can be signalled
// together with anything it spawns.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup delivers sig to the child's whole process group.
// Negative PID addresses the group on Unix.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}
