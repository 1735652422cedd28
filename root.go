package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagBaseDir string
	flagVerbose bool
	flagDebug   bool
	flagQuiet   bool
)

// rootCmdContext bundles the resolved base directory and logger, set once
// in PersistentPreRunE and read by every subcommand's RunE.
type rootCmdContext struct {
	BaseDir string
	Logger  *slog.Logger
}

type rootCmdContextKey struct{}

func cliContextFrom(ctx context.Context) *rootCmdContext {
	cc, _ := ctx.Value(rootCmdContextKey{}).(*rootCmdContext)
	return cc
}

// newRootCmd builds the fully-assembled stashd command tree. The CLI
// surface is intentionally thin, daemon lifecycle plus stash admin only
// (purpose-scope.md §1: "CLI/prompts … out of scope" beyond that narrow
// surface).
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stashd",
		Short:         "Local-first CRDT folder sync daemon",
		Long:          "stashd supervises reconciled, CRDT-synchronized stash folders.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadRootContext(cmd)
		},
	}

	defaultBaseDir, _ := os.UserHomeDir()
	if defaultBaseDir != "" {
		defaultBaseDir = filepath.Join(defaultBaseDir, ".stash")
	}

	cmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", defaultBaseDir, "directory holding config.json and the stash registry")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStashCmd())

	return cmd
}

func loadRootContext(cmd *cobra.Command) error {
	if flagBaseDir == "" {
		return fmt.Errorf("--base-dir could not be resolved and was not set")
	}

	if err := os.MkdirAll(flagBaseDir, 0o700); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}

	logger := buildLogger()
	cc := &rootCmdContext{BaseDir: flagBaseDir, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, rootCmdContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger whose level is controlled by the
// mutually-exclusive --verbose/--debug/--quiet flags.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
