//go:build !windows

package daemon

import "syscall"

// newSessionAttr starts the detached child as a new session leader, so it
// has no controlling terminal and survives the parent shell exiting.
func newSessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
