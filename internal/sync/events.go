package sync

import (
	"log/slog"
	"sync"
)

type EventKind string

const (
	EventPeerFound    EventKind = "peer-found"
	EventPeerLost     EventKind = "peer-lost"
	EventPeersUpdated EventKind = "peers-updated"
	EventSyncStart    EventKind = "sync-start"
	EventSyncComplete EventKind = "sync-complete"
	EventSyncError    EventKind = "sync-error"
	EventStatusChange EventKind = "status-change"
)

// Event is the single payload type delivered to subscribers. Fields beyond
// Kind are filled per kind: Peer for peer-found, Peers for peers-updated,
// Pulled/Pushed for sync-complete, Err for sync-error, State for
// status-change.
type Event struct {
	Kind   EventKind
	Peer   *PeerInfo
	Peers  []PeerInfo
	Pulled int
	Pushed int
	Err    string
	State  *SyncState
}

type listener struct {
	id int
	fn func(Event)
}

// Bus fans events out to subscribers in subscription order. The same
// function may be subscribed more than once and is then invoked once per
// subscription. A panicking subscriber is recovered and logged so the
// remaining subscribers still run.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners []listener
	log       *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe registers fn and returns a function that removes this
// subscription.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		b.deliver(l, ev)
	}
}

func (b *Bus) deliver(l listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", "event", ev.Kind, "panic", r)
		}
	}()
	l.fn(ev)
}
