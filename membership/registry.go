// Package membership tracks the node's view of masters (authorized
// work senders) and peers (the consensus set), replacing the source's
// global VKBook singleton with an injected, explicitly-owned service
// per spec.md's Design Notes.
package membership

import "sync"

// Registry holds the masters and peers sets for one node. Safe for
// concurrent use, though in steady state it is only mutated from the
// node's single event-loop goroutine.
type Registry struct {
	mu               sync.RWMutex
	masters          map[string]struct{}
	peers            map[string]struct{}
	peersNotInConsensus map[string]struct{}
}

// New creates a Registry seeded with the given masters and peers.
func New(masters, peers []string) *Registry {
	r := &Registry{
		masters:             make(map[string]struct{}, len(masters)),
		peers:                make(map[string]struct{}, len(peers)),
		peersNotInConsensus: make(map[string]struct{}),
	}
	for _, vk := range masters {
		r.masters[vk] = struct{}{}
	}
	for _, vk := range peers {
		r.peers[vk] = struct{}{}
	}
	return r
}

// IsMaster reports whether vk is an authorized work sender.
func (r *Registry) IsMaster(vk string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.masters[vk]
	return ok
}

// GetMasters returns a snapshot of the masters set.
func (r *Registry) GetMasters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.masters))
	for vk := range r.masters {
		out = append(out, vk)
	}
	return out
}

// GetPeersForConsensus returns a snapshot of the peer set participating
// in consensus (not including the local node itself).
func (r *Registry) GetPeersForConsensus() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for vk := range r.peers {
		out = append(out, vk)
	}
	return out
}

// SetPeersNotInConsensus records the vks whose submitted solution
// diverged from a resolved "failed" consensus (spec.md's supplemented
// drop_bad_peers feature). Reconnection policy is intentionally left
// out of the core — see DESIGN.md Open Questions.
func (r *Registry) SetPeersNotInConsensus(vks []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peersNotInConsensus = make(map[string]struct{}, len(vks))
	for _, vk := range vks {
		r.peersNotInConsensus[vk] = struct{}{}
	}
}

// PeersNotInConsensus returns the most recently recorded out-of-consensus set.
func (r *Registry) PeersNotInConsensus() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peersNotInConsensus))
	for vk := range r.peersNotInConsensus {
		out = append(out, vk)
	}
	return out
}

// AddPeer admits vk into the consensus set (e.g. after reconnection).
func (r *Registry) AddPeer(vk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[vk] = struct{}{}
}

// RemovePeer evicts vk from the consensus set.
func (r *Registry) RemovePeer(vk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, vk)
}
