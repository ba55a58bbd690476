// Package procutil holds process-introspection helpers shared by the
// daemon's GC idleness predicate and a session's own /status endpoint,
// so both can report "does this shell have live children" without either
// importing the other.
package procutil

import (
	"log/slog"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// HasDescendants reports whether pid has any live child processes.
//
// Grounded on davidolrik-overseer's use of gopsutil/v3/process for process
// introspection — the teacher repo never needed this since it had no GC
// policy at all.
func HasDescendants(pid int) bool {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		// Process already gone; no descendants to speak of.
		return false
	}
	children, err := proc.Children()
	if err != nil {
		slog.Debug("descendant lookup failed", "pid", pid, "err", err)
		return false
	}
	return len(children) > 0
}
