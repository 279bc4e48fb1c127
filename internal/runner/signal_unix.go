//go:build !windows

package runner

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcessGroup sends SIGKILL to the whole process group rooted at pid,
// the generalization of the teacher's own terminate/kill context pattern
// (cmd/agent-sandbox/run.go) to the explicit per_command_timeout_sec deadline
// spec §4.C requires ("enforce per_command_timeout_sec by killing the
// process group on expiry").
func killProcessGroup(pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func procAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
