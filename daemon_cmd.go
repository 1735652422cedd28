package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rupertsworld/stash/internal/daemon"
)

// newDaemonCmd builds the "daemon" command group: start the long-running
// supervisor described by spec.md §4.8.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or inspect the stash daemon",
	}

	cmd.AddCommand(newDaemonStartCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			host, err := daemon.New(cc.BaseDir, cc.Logger)
			if err != nil {
				return fmt.Errorf("starting daemon: %w", err)
			}

			return host.Run(cmd.Context())
		},
	}
}
