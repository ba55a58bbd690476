package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ianremillard/silc/internal/cliclient"
)

// targetSession resolves a "<name-or-port>" positional argument into a
// Session client. Local CLI usage talks to 127.0.0.1, which every session
// server trusts unauthenticated, so no token is needed here — only a
// cross-host client would need one (see cmd_attach.go's --token flag).
func targetSession(target string) (*cliclient.Session, error) {
	c := cliclient.New(daemonURL())
	port, err := resolveTarget(c, target)
	if err != nil {
		return nil, err
	}
	return cliclient.NewSession(port, ""), nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name-or-port>",
		Short: "Show a session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			st, err := sess.Status()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newOutCmd() *cobra.Command {
	var since int64
	var clean bool
	cmd := &cobra.Command{
		Use:   "out <name-or-port>",
		Short: "Print output since a cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			out, err := sess.GetOutput(since, clean)
			if err != nil {
				return err
			}
			for _, l := range out.Lines {
				fmt.Println(l)
			}
			if out.Partial != "" {
				fmt.Print(out.Partial)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "cursor to read from")
	cmd.Flags().BoolVar(&clean, "clean", false, "strip escape sequences and fold CR overwrites")
	return cmd
}

func newInCmd() *cobra.Command {
	var noNewline bool
	cmd := &cobra.Command{
		Use:   "in <name-or-port> <text>",
		Short: "Write input to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			return sess.WriteInput(args[1], noNewline)
		},
	}
	cmd.Flags().BoolVar(&noNewline, "no-newline", false, "don't append a trailing newline")
	return cmd
}

func newRunCmd() *cobra.Command {
	var timeoutMS int
	var clean bool
	cmd := &cobra.Command{
		Use:   "run <name-or-port> <command>",
		Short: "Run a command synchronously and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			out, err := sess.Run(args[1], timeoutMS, clean)
			if err != nil {
				return err
			}
			fmt.Print(out.Output)
			if out.TimedOut {
				fmt.Fprintln(os.Stderr, "(run timed out)")
			}
			os.Exit(out.ExitCode)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 30000, "max time to wait for completion")
	cmd.Flags().BoolVar(&clean, "clean", false, "strip escape sequences from the output")
	return cmd
}

func newInterruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <name-or-port>",
		Short: "Send Ctrl-C to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			return sess.Interrupt()
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name-or-port>",
		Short: "Clear a session's retained output buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			return sess.Clear()
		},
	}
}

func newResizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resize <name-or-port> <rows> <cols>",
		Short: "Resize a session's terminal window",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			rows, cols := atoiOrZero(args[1]), atoiOrZero(args[2])
			return sess.Resize(rows, cols)
		},
	}
	return cmd
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <name-or-port>",
		Short: "Gracefully close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			return sess.Close()
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name-or-port>",
		Short: "Forcefully kill a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := targetSession(args[0])
			if err != nil {
				return err
			}
			return sess.SignalKill()
		},
	}
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
