// silc is the CLI client for silcd. It is a thin HTTP client: every
// subcommand either talks to the daemon's management API or to one
// session's own HTTP/WS server directly.
package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/cliclient"
)

var daemonAddr string

func daemonURL() string {
	if env := os.Getenv("SILC_DAEMON_PORT"); env != "" {
		return "http://127.0.0.1:" + env
	}
	return daemonAddr
}

func main() {
	root := &cobra.Command{
		Use:   "silc",
		Short: "Client for silcd, the programmable shell-session daemon",
	}
	root.PersistentFlags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:19999", "silcd management API base URL")

	root.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newStatusCmd(),
		newOutCmd(),
		newInCmd(),
		newRunCmd(),
		newInterruptCmd(),
		newClearCmd(),
		newResizeCmd(),
		newCloseCmd(),
		newKillCmd(),
		newShutdownCmd(),
		newKillAllCmd(),
		newAttachCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI's exit code: 0 on success, 3 when
// the daemon or a session server could not be reached at all, and 1 for
// every other error, including usage and flag-parsing errors, which cobra
// returns from Execute like any other error.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return 3
		}
	}
	return 1
}

func newClientPair(port int, token string) *cliclient.Session {
	return cliclient.NewSession(port, token)
}

func resolveSessionByName(c *cliclient.Client, name string) (api.SessionHandle, error) {
	sessions, err := c.ListSessions()
	if err != nil {
		return api.SessionHandle{}, err
	}
	for _, s := range sessions {
		if s.Name == name {
			return s, nil
		}
	}
	return api.SessionHandle{}, fmt.Errorf("no session named %q", name)
}

// resolveTarget accepts either a bare port number or a registered session
// name and returns the port to talk to.
func resolveTarget(c *cliclient.Client, target string) (int, error) {
	if port, err := strconv.Atoi(target); err == nil {
		return port, nil
	}
	h, err := resolveSessionByName(c, target)
	if err != nil {
		return 0, err
	}
	return h.Port, nil
}
