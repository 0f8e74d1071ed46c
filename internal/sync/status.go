package sync

import (
	"sync"
	"time"
)

// statusPublisher owns the SyncState snapshot. Every mutation publishes a
// status-change event carrying a copy of the full state, so subscribers can
// rebuild their view from any single event.
type statusPublisher struct {
	mu    sync.RWMutex
	state SyncState
	bus   *Bus
}

func newStatusPublisher(bus *Bus) *statusPublisher {
	return &statusPublisher{
		state: SyncState{Status: StatusStandalone},
		bus:   bus,
	}
}

// update applies mut under the lock, then publishes status-change with the
// resulting snapshot.
func (s *statusPublisher) update(mut func(*SyncState)) {
	s.mu.Lock()
	mut(&s.state)
	snap := cloneState(s.state)
	s.mu.Unlock()

	s.bus.Publish(Event{Kind: EventStatusChange, State: &snap})
}

func (s *statusPublisher) State() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// LastSync returns a copy of the replication cursor, nil before the first
// successful cycle.
func (s *statusPublisher) LastSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.LastSyncTimestamp == nil {
		return nil
	}
	t := *s.state.LastSyncTimestamp
	return &t
}

// cloneState deep-copies the pointer fields so callers can hold the
// snapshot without racing later mutations.
func cloneState(st SyncState) SyncState {
	out := st
	if st.ActivePeer != nil {
		p := *st.ActivePeer
		out.ActivePeer = &p
	}
	if st.LastSyncTimestamp != nil {
		t := *st.LastSyncTimestamp
		out.LastSyncTimestamp = &t
	}
	return out
}
