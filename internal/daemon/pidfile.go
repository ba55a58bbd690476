package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// errAlreadyRunning is returned by AcquirePIDFile when another live process
// already holds the PID file lock.
var errAlreadyRunning = fmt.Errorf("daemon: another instance is already running")

// PIDFilePath returns the singleton PID-file location under rootDir.
func PIDFilePath(rootDir string) string {
	return filepath.Join(rootDir, "silcd.pid")
}

// AcquirePIDFile enforces the single-daemon-per-data-dir invariant: it
// reads any existing PID file, checks whether that PID is still alive
// (signal 0 probe), and either errors (errAlreadyRunning) or takes over
// the file by writing its own PID.
func AcquirePIDFile(rootDir string) error {
	path := PIDFilePath(rootDir)
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil && pid > 0 && processAlive(pid) {
			return errAlreadyRunning
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReleasePIDFile removes the PID file; called on clean shutdown.
func ReleasePIDFile(rootDir string) {
	os.Remove(PIDFilePath(rootDir))
}
