package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashware/inventory-sync/internal/httpapi"
)

// StatusOptions holds the status command's flags.
type StatusOptions struct {
	*RootOptions
	Addr string
	JSON bool
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		Long: `Query a running daemon's status API and print the current sync state:
status, active peer, last successful sync, and every peer visible on the
LAN.

Example:
  inventory-sync status
  inventory-sync status --addr 127.0.0.1:8787 --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := opts.Addr
			if !cmd.Flags().Changed("addr") {
				if env := os.Getenv("INVSYNC_STATUS_ADDR"); env != "" {
					addr = env
				}
			}
			return printStatus(cmd.OutOrStdout(), addr, opts.JSON)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8787", "status API address of the daemon")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the raw JSON response")

	return cmd
}

func printStatus(w io.Writer, addr string, asJSON bool) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon at %s returned status %d", addr, resp.StatusCode)
	}

	var status httpapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status from %s: %w", addr, err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(w, "Device:  %s (version %s)\n", status.DeviceID, status.Version)
	fmt.Fprintf(w, "Status:  %s\n", status.State.Status)
	if p := status.State.ActivePeer; p != nil {
		fmt.Fprintf(w, "Syncing with: %s\n", p.String())
	}
	if t := status.State.LastSyncTimestamp; t != nil {
		fmt.Fprintf(w, "Last sync: %s\n", t.Format(time.RFC3339))
	}
	if len(status.Peers) == 0 {
		fmt.Fprintln(w, "No peers visible")
		return nil
	}
	fmt.Fprintf(w, "Peers (%d):\n", len(status.Peers))
	for _, p := range status.Peers {
		fmt.Fprintf(w, "  %s\n", p.String())
	}
	return nil
}
