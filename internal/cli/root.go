package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// Execute runs the CLI. ctx bounds the lifetime of long-running commands;
// cancelling it (e.g. on SIGINT) shuts the daemon down gracefully.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

// NewRootCommand builds the inventory-sync command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "inventory-sync",
		Short: "LAN synchronization daemon for household inventory devices",
		Long: `inventory-sync keeps independently writable inventory databases on the
same network eventually consistent. It advertises itself over mDNS, adopts
the first discovered peer as its sync partner, and replays changes in both
directions at a fixed interval through the backend's /api/sync endpoints.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts, version))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewIPCommand())
	cmd.AddCommand(NewVersionCommand(version))

	return cmd
}

// setupLogging points the process-wide slog default at stderr with the
// requested level and returns it for explicit injection into components.
func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
