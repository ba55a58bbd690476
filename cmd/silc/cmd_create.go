package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ianremillard/silc/internal/api"
	"github.com/ianremillard/silc/internal/cliclient"
)

func newCreateCmd() *cobra.Command {
	var name, shell, cwd string
	var rows, cols int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new shell session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cliclient.New(daemonURL())
			handle, err := c.CreateSession(api.CreateSessionRequest{
				Name: name, Shell: shell, Cwd: cwd, Rows: rows, Cols: cols,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s\tport=%d\tpid=%d\ttoken=%s\n", handle.Name, handle.Port, handle.PID, handle.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (auto-generated if omitted)")
	cmd.Flags().StringVar(&shell, "shell", "", "shell kind: bash|zsh|sh|cmd|pwsh (auto-detected if omitted)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the spawned shell")
	cmd.Flags().IntVar(&rows, "rows", 24, "initial terminal rows")
	cmd.Flags().IntVar(&cols, "cols", 80, "initial terminal columns")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cliclient.New(daemonURL())
			sessions, err := c.ListSessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\tport=%d\tpid=%d\tshell=%s\n", s.Name, s.Port, s.PID, s.Shell)
			}
			return nil
		},
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Gracefully stop every session and the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliclient.New(daemonURL()).Shutdown()
		},
	}
}

func newKillAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "killall",
		Short: "Forcefully stop every session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliclient.New(daemonURL()).KillAll()
		},
	}
}
