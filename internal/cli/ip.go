package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashware/inventory-sync/internal/netutil"
)

// lookupIP is a package hook so tests don't depend on the host's interfaces.
var lookupIP = netutil.AccessibleIP

// NewIPCommand creates the ip command.
func NewIPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Show the address other devices can reach this machine on",
		Long: `Print the LAN address peers can reach this machine on, preferring
wireless and ethernet interfaces and skipping virtual bridges.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := lookupIP()
			if ip == "" {
				return fmt.Errorf("no accessible IP found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Accessible IP:", ip)
			return nil
		},
	}
}
