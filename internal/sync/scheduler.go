package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler drives the sync loop: one cycle immediately on Start, then one
// per interval tick. A tick that lands while a cycle is still in flight is
// skipped, so cycles never overlap. Stop cancels the ticker; an in-flight
// cycle is left to finish on its own.
type Scheduler struct {
	interval time.Duration
	clock    clock.Clock
	run      func(ctx context.Context)
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	inFlight atomic.Bool
	skipped  atomic.Int64
	onSkip   func()
	wg       sync.WaitGroup
}

func NewScheduler(interval time.Duration, clk clock.Clock, log *slog.Logger, run func(ctx context.Context)) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		clock:    clk,
		run:      run,
		log:      log,
	}
}

// OnSkip registers fn to run whenever a tick is dropped. Set it before the
// first Start.
func (s *Scheduler) OnSkip(fn func()) {
	s.onSkip = fn
}

// Start is a no-op if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done

	// The ticker is created before Start returns so tests driving a mock
	// clock see it registered immediately.
	ticker := s.clock.Ticker(s.interval)
	s.mu.Unlock()

	s.tryRun(ctx)
	go s.loop(ctx, ticker, stop, done)
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryRun(ctx)
		}
	}
}

// tryRun launches a cycle unless one is already in flight.
func (s *Scheduler) tryRun(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.onSkip != nil {
			s.onSkip()
		}
		s.log.Debug("sync tick skipped, previous cycle still in flight")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.run(ctx)
	}()
}

// Stop halts the timer and waits for the loop to exit. It does not wait for
// an in-flight cycle; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
}

// Wait blocks until any in-flight cycle has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Skipped reports how many ticks were dropped because a cycle was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}
