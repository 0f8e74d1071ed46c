package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grandcat/zeroconf"

	"github.com/stashware/inventory-sync/internal/netutil"
	syncTypes "github.com/stashware/inventory-sync/internal/sync"
)

const (
	DefaultWindow     = 15 * time.Second
	DefaultSweepEvery = 30 * time.Second
	DefaultStaleAfter = 60 * time.Second
)

// Sink receives peer observations from the browser; the sync engine
// implements it.
type Sink interface {
	MarkSeen(p syncTypes.PeerInfo, at time.Time)
	ExpireBefore(cutoff time.Time)
}

// browse runs one resolver query window. The resolver closes entries when
// ctx ends; a package hook so tests can feed entries without multicast.
var browse = func(ctx context.Context, entries chan *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return fmt.Errorf("failed to create mdns resolver: %w", err)
	}
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse: %w", err)
	}
	return nil
}

type BrowserConfig struct {
	LocalPort  uint16        // advertisements on this port are our own
	Window     time.Duration // length of one browse window
	SweepEvery time.Duration
	StaleAfter time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Browser watches the LAN for peer advertisements in repeated resolver
// windows. Each window re-reports every live advertisement, which doubles as
// the liveness refresh: mDNS goodbye packets are not reliably surfaced, so a
// peer missing from enough consecutive windows is expired by the sweep.
type Browser struct {
	cfg   BrowserConfig
	sink  Sink
	clock clock.Clock
	log   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBrowser(cfg BrowserConfig, sink Sink) *Browser {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Browser{
		cfg:   cfg,
		sink:  sink,
		clock: cfg.Clock,
		log:   cfg.Logger,
	}
}

func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("browser already running")
	}
	b.running = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	// The sweep ticker is created before Start returns so tests driving a
	// mock clock see it registered immediately.
	ticker := b.clock.Ticker(b.cfg.SweepEvery)

	b.wg.Add(2)
	go b.run(runCtx)
	go b.sweep(runCtx, ticker)

	b.log.Info("browsing for peers",
		"service", ServiceType,
		"window", b.cfg.Window,
		"staleAfter", b.cfg.StaleAfter)
	return nil
}

// Stop ends the browse windows and the sweep and waits for both to return.
func (b *Browser) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.log.Info("peer browsing stopped")
}

func (b *Browser) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		ok := b.browseWindow(ctx)
		if ctx.Err() != nil {
			return
		}
		if !ok {
			// A broken resolver fails fast; pause so the retry loop does
			// not spin.
			select {
			case <-ctx.Done():
				return
			case <-b.clock.After(b.cfg.Window):
			}
		}
	}
}

func (b *Browser) browseWindow(ctx context.Context) bool {
	winCtx, cancel := context.WithTimeout(ctx, b.cfg.Window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := browse(winCtx, entries); err != nil {
		if ctx.Err() == nil {
			b.log.Warn("mdns browse window failed", "error", err)
		}
		return false
	}

	for entry := range entries {
		b.handleEntry(entry)
	}
	return true
}

func (b *Browser) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.TTL == 0 {
		return
	}
	if entry.Port <= 0 || entry.Port > math.MaxUint16 {
		return
	}
	port := uint16(entry.Port)

	if port == b.cfg.LocalPort {
		b.log.Debug("ignoring own advertisement", "instance", entry.Instance)
		return
	}

	host := pickHost(entry)
	if host == "" {
		b.log.Debug("no physical address advertised",
			"instance", entry.Instance,
			"port", port)
		return
	}

	b.sink.MarkSeen(syncTypes.PeerInfo{
		Host:        host,
		Port:        port,
		DisplayName: entry.Instance,
	}, b.clock.Now())
}

// pickHost returns the first advertised IPv4 address that is a real LAN
// address, or "" when none qualifies.
func pickHost(entry *zeroconf.ServiceEntry) string {
	for _, ip := range entry.AddrIPv4 {
		if addr := ip.String(); netutil.IsPhysical(addr) {
			return addr
		}
	}
	return ""
}

func (b *Browser) sweep(ctx context.Context, ticker *clock.Ticker) {
	defer b.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sink.ExpireBefore(b.clock.Now().Add(-b.cfg.StaleAfter))
		}
	}
}
