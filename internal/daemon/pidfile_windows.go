//go:build windows

package daemon

import "os"

// processAlive probes liveness by attempting to open a handle to pid;
// os.FindProcess always succeeds on POSIX but on Windows returns an error
// once the process is gone.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
