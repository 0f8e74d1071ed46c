package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stashware/inventory-sync/internal/config"
	"github.com/stashware/inventory-sync/internal/deviceid"
	"github.com/stashware/inventory-sync/internal/discovery"
	"github.com/stashware/inventory-sync/internal/httpapi"
	"github.com/stashware/inventory-sync/internal/metrics"
	syncTypes "github.com/stashware/inventory-sync/internal/sync"
	"github.com/stashware/inventory-sync/internal/syncserver"
)

// RunOptions holds the run command's flags. Unset flags fall back to the
// INVSYNC_* environment, then to built-in defaults.
type RunOptions struct {
	*RootOptions
	Port       uint16
	BackendURL string
	Name       string
	Interval   time.Duration
	StatusAddr string
	DataDir    string
	Embedded   bool
}

// runDaemonFn is swapped out in tests to capture the resolved config.
var runDaemonFn = runDaemon

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions, version string) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		Long: `Start the sync daemon: advertise this instance on the LAN, browse for
peers, and keep the local inventory backend in sync with the active peer.

The daemon fronts the backend given by --backend-url. With --embedded it
serves the sync endpoint in-process on --port instead, for standalone
deployments and demos that run without the full inventory backend.

Example:
  inventory-sync run --port 8000
  inventory-sync run --embedded --port 9001 --name den-laptop`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runDaemonFn(cmd.Context(), cfg, version, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Uint16Var(&opts.Port, "port", 8000, "advertised port; must match the backend listen port")
	cmd.Flags().StringVar(&opts.BackendURL, "backend-url", "", "local backend base URL (default http://127.0.0.1:<port>)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name advertised to peers (default inventory-sync-<hostname>)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", syncTypes.DefaultInterval, "sync cycle interval")
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "127.0.0.1:8787", "status API listen address")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory (default ~/.inventory-sync)")
	cmd.Flags().BoolVar(&opts.Embedded, "embedded", false, "serve the sync endpoint in-process instead of fronting a backend")

	return cmd
}

// resolveRunConfig layers explicitly set flags over the environment, then
// fills derived defaults and validates.
func resolveRunConfig(cmd *cobra.Command, opts *RunOptions) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("backend-url") {
		cfg.BackendURL = opts.BackendURL
	}
	if flags.Changed("name") {
		cfg.DisplayName = opts.Name
	}
	if flags.Changed("interval") {
		cfg.Interval = opts.Interval
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = opts.StatusAddr
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = opts.DataDir
	}
	if flags.Changed("embedded") {
		cfg.Embedded = opts.Embedded
	}
	if opts.Verbose {
		cfg.Verbose = true
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDiscovery builds the LAN advertiser and browser feeding the engine. A
// package hook so daemon tests run without multicast sockets.
var newDiscovery = func(cfg *config.Config, log *slog.Logger, sink discovery.Sink) (syncTypes.Advertiser, syncTypes.Browser) {
	adv := discovery.NewAdvertiser(cfg.DisplayName, cfg.Port, log)
	brw := discovery.NewBrowser(discovery.BrowserConfig{
		LocalPort:  cfg.Port,
		Window:     cfg.BrowseWindow,
		SweepEvery: cfg.SweepEvery,
		StaleAfter: cfg.StaleAfter,
		Logger:     log,
	}, sink)
	return adv, brw
}

// runDaemon assembles and runs the daemon until ctx is cancelled. Shutdown
// order: engine first (an in-flight cycle finishes), then the status API,
// then the embedded sync server the cycle may still be talking to.
func runDaemon(ctx context.Context, cfg *config.Config, version string, out io.Writer) error {
	log := setupLogging(cfg.Verbose)

	deviceID, err := deviceid.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load device id: %w", err)
	}

	registry := prometheus.NewRegistry()

	if cfg.Embedded {
		embedded := syncserver.NewServer(syncserver.NewMemStore(), deviceID, cfg.DisplayName, log)
		if err := embedded.StartAsync(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			return fmt.Errorf("failed to start embedded sync server: %w", err)
		}
		defer stopGracefully(embedded.Stop)
	}

	engine := syncTypes.NewEngine(syncTypes.Options{
		LocalPort:      cfg.Port,
		LocalBaseURL:   cfg.BackendURL,
		Interval:       cfg.Interval,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
		Metrics:        metrics.New(registry),
	})
	engine.SetDiscovery(newDiscovery(cfg, log, engine))

	unsubscribe := engine.Subscribe(func(ev syncTypes.Event) {
		switch ev.Kind {
		case syncTypes.EventPeerFound:
			fmt.Fprintf(out, "Syncing with %s\n", ev.Peer.String())
		case syncTypes.EventPeerLost:
			fmt.Fprintln(out, "Peer lost, standalone until a new peer appears")
		case syncTypes.EventSyncComplete:
			if ev.Pulled > 0 || ev.Pushed > 0 {
				fmt.Fprintf(out, "Sync complete: pulled %d, pushed %d\n", ev.Pulled, ev.Pushed)
			}
		case syncTypes.EventSyncError:
			fmt.Fprintf(out, "Sync failed: %s\n", ev.Err)
		}
	})
	defer unsubscribe()

	statusAPI := httpapi.NewServer(engine, deviceID, version, registry, log)
	if err := statusAPI.StartAsync(cfg.StatusAddr); err != nil {
		return fmt.Errorf("failed to start status api: %w", err)
	}
	defer stopGracefully(statusAPI.Stop)

	// The engine gets its own context: cancelling the daemon must not abort
	// an in-flight HTTP call, which Stop lets finish or time out on its own.
	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	defer engine.Stop()

	fmt.Fprintf(out, "inventory-sync %s\n", version)
	fmt.Fprintf(out, "Device: %s (%s)\n", cfg.DisplayName, deviceID)
	fmt.Fprintf(out, "Advertising on port %d, backend %s\n", cfg.Port, cfg.BackendURL)
	fmt.Fprintf(out, "Status API on http://%s/status\n", statusAPI.Addr())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	<-ctx.Done()
	fmt.Fprintln(out, "\nShutting down...")
	return nil
}

func stopGracefully(stop func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop(ctx)
}
