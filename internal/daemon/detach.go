package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// detachEnvVar marks a re-exec'd child as the one that should actually run
// the daemon loop, rather than forking again.
const detachEnvVar = "SILC_DAEMON_DETACHED"

// Detach implements spec.md §4.8's detachment requirement: it re-execs the
// current binary with the same argv, in a new session (Setsid, via
// newSessionAttr — the cross-platform SysProcAttr builder in
// detach_posix.go/detach_windows.go), redirecting stdio to /dev/null, and
// then exits the parent immediately. This is the double-fork-equivalent
// idiom: the first fork is the shell invoking silcd, the second is this
// re-exec into a new session so the daemon survives the parent's
// controlling terminal closing.
//
// Grounded on the "sess" daemon's detachFromTerminal (Setsid +
// dup-stdio-to-/dev/null) from the example pack, generalized from
// in-process self-detachment (which still leaves the daemon as a
// foreground child of its launcher) to a genuine re-exec into a fresh
// session, since silcd must keep running after its launching shell exits.
func Detach() error {
	if os.Getenv(detachEnvVar) == "1" {
		// Already the detached child; nothing more to do.
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: detach: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemon: detach: opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachEnvVar+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = newSessionAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: detach: starting detached child: %w", err)
	}

	fmt.Printf("silcd started in background, pid %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil // unreachable
}
