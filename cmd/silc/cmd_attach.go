package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/cliclient"
)

// newAttachCmd implements an interactive terminal in front of a session's
// /ws endpoint: raw-mode stdin goes out as "type" events, "update"/"history"
// events are written straight to stdout. Grounded on
// ehrlich-b-wingthing/internal/ws/client.go's coder/websocket Dial/Write
// usage, adapted from that package's relay-envelope protocol to this
// system's load_history/history/type/resize/update/closed events.
func newAttachCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "attach <name-or-port>",
		Short: "Attach an interactive terminal to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cliclient.New(daemonURL())
			port, err := resolveTarget(c, args[0])
			if err != nil {
				return err
			}
			sess := cliclient.NewSession(port, token)
			return runAttach(cmd.Context(), sess)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token, required only for non-loopback sessions")
	return cmd
}

func runAttach(ctx context.Context, sess *cliclient.Session) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	conn, _, err := websocket.Dial(ctx, sess.WSURL(), nil)
	if err != nil {
		return fmt.Errorf("attach: dial: %w", err)
	}
	defer conn.CloseNow()

	stdinFd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(stdinFd) {
		oldState, err = term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("attach: raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	readErrCh := make(chan error, 1)
	go attachReadLoop(ctx, conn, readErrCh)

	writeErrCh := make(chan error, 1)
	go attachWriteLoop(ctx, conn, writeErrCh)

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErrCh:
		return err
	case err := <-writeErrCh:
		return err
	}
}

// attachReadLoop relays server->client events to stdout.
func attachReadLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		var ev api.WSEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		switch ev.Event {
		case api.WSHistory, api.WSUpdate:
			io.WriteString(os.Stdout, ev.Data)
		case api.WSClosed:
			errCh <- io.EOF
			return
		}
	}
}

// attachWriteLoop relays stdin keystrokes to the session as "type" events.
func attachWriteLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			ev := api.WSEvent{Event: api.WSType, Text: string(buf[:n]), NoNewline: true}
			b, _ := json.Marshal(ev)
			if werr := conn.Write(ctx, websocket.MessageText, b); werr != nil {
				errCh <- werr
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}
