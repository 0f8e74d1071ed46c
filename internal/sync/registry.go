package sync

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks every peer currently visible on the LAN plus the single
// peer being synced with. Invariant: active is "" or a key present in peers.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]PeerInfo
	lastSeen map[string]time.Time
	active   string
}

func NewRegistry() *Registry {
	return &Registry{
		peers:    make(map[string]PeerInfo),
		lastSeen: make(map[string]time.Time),
	}
}

// Delta reports what a registry mutation changed so the engine can map it
// onto events and scheduler transitions. Changed is false for pure liveness
// refreshes of an already known peer.
type Delta struct {
	Changed   bool
	Added     *PeerInfo
	Removed   []PeerInfo
	NewActive *PeerInfo
	LostAll   bool
}

// MarkSeen upserts a peer observation. The first peer ever seen (or the
// first after the registry emptied) becomes the active peer.
func (r *Registry) MarkSeen(p PeerInfo, at time.Time) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.Key()
	_, known := r.peers[key]
	r.peers[key] = p
	r.lastSeen[key] = at

	var d Delta
	if known {
		return d
	}

	d.Changed = true
	added := p
	d.Added = &added
	if r.active == "" {
		r.active = key
		activated := p
		d.NewActive = &activated
	}
	return d
}

// Drop removes one peer immediately, failing over if it was active.
func (r *Registry) Drop(key string) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, known := r.peers[key]
	if !known {
		return Delta{}
	}
	delete(r.peers, key)
	delete(r.lastSeen, key)

	d := Delta{Changed: true, Removed: []PeerInfo{peer}}
	if r.active == key {
		r.failoverLocked(&d)
	}
	return d
}

// ExpireBefore drops every peer not observed since cutoff.
func (r *Registry) ExpireBefore(cutoff time.Time) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Delta
	for key, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			d.Changed = true
			d.Removed = append(d.Removed, r.peers[key])
			delete(r.peers, key)
			delete(r.lastSeen, key)
		}
	}

	if d.Changed && r.active != "" {
		if _, stillThere := r.peers[r.active]; !stillThere {
			r.failoverLocked(&d)
		}
	}
	return d
}

// failoverLocked picks the lexicographically smallest remaining key as the
// new active peer, keeping replacement deterministic and testable.
func (r *Registry) failoverLocked(d *Delta) {
	if len(r.peers) == 0 {
		r.active = ""
		d.LostAll = true
		return
	}

	keys := make([]string, 0, len(r.peers))
	for k := range r.peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r.active = keys[0]
	next := r.peers[keys[0]]
	d.NewActive = &next
}

func (r *Registry) ActivePeer() *PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil
	}
	p := r.peers[r.active]
	return &p
}

// Peers returns an unordered snapshot of the visible peer set.
func (r *Registry) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
