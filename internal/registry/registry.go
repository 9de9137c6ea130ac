// Package registry implements the gossip engine's peer directory: known
// addresses, liveness flags, and last-seen timestamps.
package registry

import (
	"sync"
	"time"
)

// PeerInfo describes one known peer.
type PeerInfo struct {
	PeerID   string
	Host     string
	Port     int
	Active   bool
	LastSeen time.Time
}

// Events is the sink the registry calls synchronously on every add/touch/
// sweep that crosses one of the rules in spec §4.D. The gossip engine wires
// this to its own event-forwarding logic; tests may wire a recording stub.
type Events interface {
	PeerDiscovered(peerID, host string, port int)
	PeerStatusChanged(peerID string, active bool)
}

// Registry is the peer directory. All mutation is expected to originate
// from the gossip engine's single actor goroutine; the mutex exists only to
// make read accessors safe to call from the introspection API.
type Registry struct {
	mu     sync.RWMutex
	selfID string
	peers  map[string]*PeerInfo
	events Events
}

// New returns an empty Registry that rejects attempts to register selfID as
// a peer and forwards lifecycle events to sink.
func New(selfID string, sink Events) *Registry {
	return &Registry{
		selfID: selfID,
		peers:  make(map[string]*PeerInfo),
		events: sink,
	}
}

// Add is an idempotent upsert: registering an already-known peer id
// refreshes its address and last-seen time and marks it active, and never
// re-emits PeerDiscovered. Registering self is rejected outright.
func (r *Registry) Add(peerID, host string, port int, now time.Time) {
	if peerID == r.selfID {
		return
	}

	r.mu.Lock()
	p, known := r.peers[peerID]
	if !known {
		p = &PeerInfo{PeerID: peerID}
		r.peers[peerID] = p
	}
	p.Host = host
	p.Port = port
	p.Active = true
	p.LastSeen = now
	r.mu.Unlock()

	if !known {
		r.events.PeerDiscovered(peerID, host, port)
	}
}

// Touch refreshes last-seen for an already-known peer. If the peer was
// inactive it flips to active and PeerStatusChanged(true) is emitted.
func (r *Registry) Touch(peerID string, now time.Time) {
	r.mu.Lock()
	p, known := r.peers[peerID]
	if !known {
		r.mu.Unlock()
		return
	}
	wasInactive := !p.Active
	p.Active = true
	p.LastSeen = now
	r.mu.Unlock()

	if wasInactive {
		r.events.PeerStatusChanged(peerID, true)
	}
}

// Sweep marks inactive every peer whose last-seen time is older than
// timeout, emitting PeerStatusChanged(false) for each edge transition.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) {
	var transitioned []string

	r.mu.Lock()
	for id, p := range r.peers {
		if p.Active && now.Sub(p.LastSeen) > timeout {
			p.Active = false
			transitioned = append(transitioned, id)
		}
	}
	r.mu.Unlock()

	for _, id := range transitioned {
		r.events.PeerStatusChanged(id, false)
	}
}

// ActivePeers returns the ids of every currently active peer.
func (r *Registry) ActivePeers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.peers))
	for id, p := range r.peers {
		if p.Active {
			out = append(out, id)
		}
	}
	return out
}

// Lookup returns a copy of the known info for peerID, or false if unknown.
func (r *Registry) Lookup(peerID string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every known peer, for the introspection API.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}
