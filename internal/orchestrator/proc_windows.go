//go:build windows

package orchestrator

import (
	"os"
	"os/exec"
	"syscall"
)

// Signal values are nominal on Windows; signalProcessGroup always kills.
const (
	termSignal = syscall.Signal(0xf)
	killSignal = syscall.Signal(0x9)
)

// setProcAttr is a no-op on Windows; process groups are Unix-only here.
func setProcAttr(cmd *exec.Cmd) {}

// signalProcessGroup kills the direct child on Windows regardless of signal.
func signalProcessGroup(pid int, _ syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
