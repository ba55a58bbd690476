//go:build windows

package daemon

import "syscall"

// newSessionAttr detaches the child into its own process group with no
// console, the Windows equivalent of a POSIX new session.
func newSessionAttr() *syscall.SysProcAttr {
	const createNewProcessGroup = 0x00000200
	const detachedProcess = 0x00000008
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup | detachedProcess}
}
