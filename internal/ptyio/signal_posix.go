//go:build !windows

package ptyio

import "syscall"

// terminateGroup and killGroup signal the child's whole process group,
// grounded on internal/daemon/instance.go's destroy(): pty.StartWithSize
// calls Setsid on the child, making it its own session and process group
// leader, so PGID == PID and kill(-pgid, sig) reaches every descendant the
// shell spawned.
func (p *PTY) terminateGroup() error { return p.signalGroup(syscall.SIGTERM) }
func (p *PTY) killGroup() error      { return p.signalGroup(syscall.SIGKILL) }

func (p *PTY) signalGroup(sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(p.pid)
	if err != nil {
		return syscall.Kill(p.pid, sig)
	}
	return syscall.Kill(-pgid, sig)
}
