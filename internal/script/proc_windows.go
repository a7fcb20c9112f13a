//go:build windows

package script

import "os/exec"

// setProcAttr is a no-op on Windows; process groups are POSIX-only and the
// direct child is killed through cmd.Process instead.
func setProcAttr(cmd *exec.Cmd) {}

// killProcessGroup kills only the direct child on Windows.
func killProcessGroup(pid int) error {
	return nil
}
