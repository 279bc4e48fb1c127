//go:build windows

package runner

import "syscall"

// killProcessGroup is a no-op on windows, which has no process-group
// signal model equivalent to SIGKILL(-pgid); exec.CommandContext's own
// context cancellation already terminates the child on timeout there.
func killProcessGroup(pid int) {}

func procAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
