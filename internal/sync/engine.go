package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stashware/inventory-sync/internal/metrics"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Options configures a sync engine. LocalPort is the port advertised to
// peers and must match the port the local backend listens on; it doubles as
// the self-identification used for discovery suppression and device ids.
type Options struct {
	LocalPort      uint16
	LocalBaseURL   string
	Interval       time.Duration
	RequestTimeout time.Duration
	Clock          clock.Clock      // nil for the real clock
	Logger         *slog.Logger     // nil for slog.Default()
	Metrics        *metrics.Metrics // nil disables instrumentation
}

// Engine ties discovery, the peer registry, the scheduler and the
// replication cycle together. It emits events to subscribers and keeps
// retrying forever; no failure it sees is fatal to the process.
type Engine struct {
	localPort    uint16
	localBaseURL string
	interval     time.Duration
	timeout      time.Duration
	clock        clock.Clock
	log          *slog.Logger
	metrics      *metrics.Metrics

	bus        *Bus
	registry   *Registry
	status     *statusPublisher
	scheduler  *Scheduler
	httpClient *http.Client
	local      *Client

	advertiser Advertiser
	browser    Browser

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

func NewEngine(opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		localPort:    opts.LocalPort,
		localBaseURL: opts.LocalBaseURL,
		interval:     opts.Interval,
		timeout:      opts.RequestTimeout,
		clock:        opts.Clock,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		bus:          NewBus(opts.Logger),
		registry:     NewRegistry(),
		httpClient:   &http.Client{Timeout: opts.RequestTimeout},
	}
	e.status = newStatusPublisher(e.bus)
	e.local = NewClient(opts.LocalBaseURL, e.httpClient)
	e.scheduler = NewScheduler(opts.Interval, opts.Clock, opts.Logger, e.syncOnce)
	if e.metrics != nil {
		e.scheduler.OnSkip(e.metrics.TicksSkipped.Inc)
	}
	return e
}

// SetDiscovery wires the LAN advertiser and browser. Call before Start;
// both may be nil, leaving the engine driven only by direct observations
// (useful under test).
func (e *Engine) SetDiscovery(adv Advertiser, brw Browser) {
	e.advertiser = adv
	e.browser = brw
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already running")
	}
	e.running = true
	e.runCtx, e.cancel = context.WithCancel(ctx)
	runCtx := e.runCtx
	e.mu.Unlock()

	if e.advertiser != nil {
		if err := e.advertiser.Start(); err != nil {
			// Degraded: peers cannot find us, but we may still find them.
			e.log.Warn("failed to advertise on lan", "error", err)
		}
	}
	if e.browser != nil {
		if err := e.browser.Start(runCtx); err != nil {
			e.log.Warn("failed to start peer discovery", "error", err)
		}
	}

	e.log.Info("sync engine started",
		"port", e.localPort,
		"backend", e.localBaseURL,
		"interval", e.interval)
	return nil
}

// Stop halts the scheduler and discovery, waits for an in-flight cycle to
// finish, then releases the engine context. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.scheduler.Stop()
	if e.browser != nil {
		e.browser.Stop()
	}
	if e.advertiser != nil {
		e.advertiser.Stop()
	}
	e.scheduler.Wait()
	cancel()

	e.log.Info("sync engine stopped")
}

// Subscribe registers a listener for engine events and returns its
// unsubscribe function.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

func (e *Engine) State() SyncState {
	return e.status.State()
}

func (e *Engine) Peers() []PeerInfo {
	return e.registry.Peers()
}

func (e *Engine) ActivePeer() *PeerInfo {
	return e.registry.ActivePeer()
}

// MarkSeen records a peer observation from discovery.
func (e *Engine) MarkSeen(p PeerInfo, at time.Time) {
	e.applyDelta(e.registry.MarkSeen(p, at))
}

// ExpireBefore drops peers not observed since cutoff.
func (e *Engine) ExpireBefore(cutoff time.Time) {
	e.applyDelta(e.registry.ExpireBefore(cutoff))
}

// applyDelta maps a registry change onto events, status and scheduler
// transitions. Event order per change: peers-updated, then peer-found or
// peer-lost, then status-change.
func (e *Engine) applyDelta(d Delta) {
	if !d.Changed {
		return
	}

	if d.Added != nil {
		e.log.Info("discovered peer", "peer", d.Added.String())
	}
	for _, lost := range d.Removed {
		e.log.Info("lost peer", "peer", lost.String())
	}
	if e.metrics != nil {
		e.metrics.PeersVisible.Set(float64(e.registry.Len()))
	}

	e.bus.Publish(Event{Kind: EventPeersUpdated, Peers: e.registry.Peers()})

	switch {
	case d.NewActive != nil:
		active := *d.NewActive
		e.bus.Publish(Event{Kind: EventPeerFound, Peer: &active})
		e.status.update(func(st *SyncState) {
			peer := active
			st.ActivePeer = &peer
		})
		e.scheduler.Start(e.cycleContext())
	case d.LostAll:
		e.scheduler.Stop()
		e.bus.Publish(Event{Kind: EventPeerLost})
		e.status.update(func(st *SyncState) {
			st.ActivePeer = nil
			st.Status = StatusStandalone
		})
	}
}

// syncOnce runs one replication cycle against the current active peer. Only
// a fully successful cycle advances the cursor.
func (e *Engine) syncOnce(ctx context.Context) {
	active := e.registry.ActivePeer()
	if active == nil {
		return
	}
	peer := *active
	since := e.status.LastSync()

	e.bus.Publish(Event{Kind: EventSyncStart})
	e.status.update(func(st *SyncState) { st.Status = StatusSyncing })

	started := e.clock.Now()
	peerClient := NewClient(PeerBaseURL(peer), e.httpClient)

	res, err := runCycle(ctx, e.local, peerClient, e.localPort, peer.Port, since)
	if err != nil {
		e.log.Warn("sync cycle failed", "peer", peer.Key(), "error", err)
		if e.metrics != nil {
			e.metrics.SyncCycles.WithLabelValues("error").Inc()
		}
		e.bus.Publish(Event{Kind: EventSyncError, Err: err.Error()})
		e.status.update(func(st *SyncState) { st.Status = StatusError })
		return
	}

	completed := e.clock.Now()
	if e.metrics != nil {
		e.metrics.SyncCycles.WithLabelValues("success").Inc()
		e.metrics.RecordsPulled.Add(float64(res.pulled))
		e.metrics.RecordsPushed.Add(float64(res.pushed))
		e.metrics.CycleDuration.Observe(completed.Sub(started).Seconds())
	}

	e.log.Info("sync cycle complete",
		"peer", peer.Key(),
		"pulled", res.pulled,
		"pushed", res.pushed)

	e.bus.Publish(Event{Kind: EventSyncComplete, Pulled: res.pulled, Pushed: res.pushed})
	e.status.update(func(st *SyncState) {
		st.Status = StatusSynced
		t := completed
		st.LastSyncTimestamp = &t
	})
}

func (e *Engine) cycleContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}
