// Package applog wires up the structured logger shared by silcd and silc.
// It mirrors the rest of the pack's preference for a slog handler over bare
// log.Printf: colorized, level-prefixed output in interactive/foreground
// mode, and plain text once the daemon has detached from its controlling
// terminal.
package applog

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Options controls how the root logger is built.
type Options struct {
	// Plain disables ANSI colorization, used once the daemon detaches and
	// its stderr no longer reaches an interactive terminal.
	Plain bool
	Level slog.Level
	Out   io.Writer
}

// New builds the process-wide logger and also installs it as slog's
// default, so library code that calls slog.Info directly picks it up.
func New(opts Options) *slog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var handler slog.Handler
	if opts.Plain {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})
	} else {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      opts.Level,
			TimeFormat: "15:04:05",
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
