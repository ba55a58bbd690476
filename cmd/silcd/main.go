// silcd is the background daemon that supervises shell sessions.
//
// Usage:
//
//	silcd [--root <dir>] [--port <n>] [--no-detach]
//
// silcd listens on a management HTTP port (default 19999) and on one
// per-session port for each spawned shell. silc does not start it: silcd
// must already be running before silc's commands can reach it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ianremillard/silc/internal/applog"
	"github.com/ianremillard/silc/internal/daemon"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "silcd: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	defaultRoot := filepath.Join(homeDir, ".silcd")
	if env := os.Getenv("SILC_DATA_DIR"); env != "" {
		defaultRoot = env
	}
	defaultPort := daemon.DefaultManagementPort
	if env := os.Getenv("SILC_DAEMON_PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil {
			defaultPort = p
		}
	}

	rootDir := flag.String("root", defaultRoot, "silcd data directory (env: SILC_DATA_DIR)")
	mgmtPort := flag.Int("port", defaultPort, "management API port (env: SILC_DAEMON_PORT)")
	noDetach := flag.Bool("no-detach", false, "run in the foreground instead of self-detaching")
	portMin := flag.Int("port-min", 20000, "lowest port to allocate for sessions")
	portMax := flag.Int("port-max", 20999, "highest port to allocate for sessions")
	flag.Parse()

	if !*noDetach && os.Getenv("SILC_DAEMON_DETACHED") != "1" {
		if err := daemon.Detach(); err != nil {
			fmt.Fprintf(os.Stderr, "silcd: detach: %v\n", err)
			os.Exit(1)
		}
		// Detach either re-execs and exits this process, or (already
		// detached) falls through — so reaching here means we're the
		// detached child and should continue starting the daemon.
	}

	detached := os.Getenv("SILC_DAEMON_DETACHED") == "1"
	logger := applog.New(applog.Options{Plain: detached, Level: logLevel()})

	if err := daemon.AcquirePIDFile(*rootDir); err != nil {
		logger.Error("another silcd instance is already running", "root", *rootDir, "err", err)
		os.Exit(1)
	}
	defer daemon.ReleasePIDFile(*rootDir)

	d, err := daemon.New(daemon.Options{
		RootDir: *rootDir,
		PortMin: *portMin,
		PortMax: *portMax,
	})
	if err != nil {
		logger.Error("daemon init failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go d.RunGCLoop(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		d.Shutdown(context.Background())
		daemon.ReleasePIDFile(*rootDir)
		os.Exit(0)
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", *mgmtPort)
	logger.Info("silcd management API listening", "addr", addr, "root", *rootDir)
	if err := http.ListenAndServe(addr, d.ManagementHandler()); err != nil {
		logger.Error("management API exited", "err", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("SILC_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
