//go:build windows

package ptyio

// Windows has no process groups in the POSIX sense; creack/pty's ConPTY
// path already detaches the child into its own console, so terminating the
// process itself is sufficient to tear down the shell and its descendants
// spawned under the same console.
func (p *PTY) terminateGroup() error { return p.cmd.Process.Kill() }
func (p *PTY) killGroup() error      { return p.cmd.Process.Kill() }
