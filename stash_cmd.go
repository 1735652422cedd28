package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rupertsworld/stash/internal/stashmgr"
)

// newStashCmd builds the "stash" admin command group: create, list,
// delete. Connecting a remote provider and running ad-hoc syncs is left
// to stashmgr.Manager's API (used by the daemon and by tests), wiring a
// concrete remote into a CLI flag is out of scope (purpose-scope.md §1
// "concrete remote provider").
func newStashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stash",
		Short: "Manage registered stashes",
	}

	cmd.AddCommand(newStashCreateCmd())
	cmd.AddCommand(newStashListCmd())
	cmd.AddCommand(newStashDeleteCmd())

	return cmd
}

func newStashCreateCmd() *cobra.Command {
	var (
		path        string
		remote      string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new stash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())

			mgr, err := stashmgr.Load(cc.BaseDir, cc.Logger)
			if err != nil {
				return err
			}

			if path == "" {
				return fmt.Errorf("--path is required")
			}

			s, err := mgr.Create(args[0], path, remote, description)
			if err != nil {
				return err
			}

			fmt.Printf("created stash %q at %s\n", s.Name(), s.Path())

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "absolute path for the stash's working tree")
	cmd.Flags().StringVar(&remote, "remote", "", "opaque remote coordinate, e.g. github:owner/repo")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")

	return cmd
}

func newStashListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered stashes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			mgr, err := stashmgr.Load(cc.BaseDir, cc.Logger)
			if err != nil {
				return err
			}

			for _, name := range mgr.List() {
				s, err := mgr.Get(name)
				if err != nil {
					continue
				}

				fmt.Printf("%s\t%s\n", s.Name(), s.Path())
			}

			return nil
		},
	}
}

func newStashDeleteCmd() *cobra.Command {
	var deleteRemote bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a registered stash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())

			mgr, err := stashmgr.Load(cc.BaseDir, cc.Logger)
			if err != nil {
				return err
			}

			if err := mgr.Delete(cmd.Context(), args[0], deleteRemote); err != nil {
				return err
			}

			fmt.Printf("deleted stash %q\n", args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteRemote, "delete-remote", false, "also delete the remote coordinate")

	return cmd
}
