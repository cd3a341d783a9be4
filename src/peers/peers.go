package peers

import (
	"sort"
	"sync"
)

// PeerSet is a mutex-guarded peer registry keyed by peer ID. It is owned by
// the orchestrator instance; multiple instances never share one.
type PeerSet struct {
	sync.RWMutex
	byID map[string]*Peer
}

// NewPeerSet ...
func NewPeerSet() *PeerSet {
	return &PeerSet{
		byID: make(map[string]*Peer),
	}
}

// UpsertDiscovered records an address observed through discovery. An
// existing peer keeps its certificate and state; only the address and
// last-seen time are refreshed.
func (p *PeerSet) UpsertDiscovered(peer *Peer) {
	p.Lock()
	defer p.Unlock()

	if existing, ok := p.byID[peer.ID]; ok {
		existing.NetAddr = peer.NetAddr
		existing.LastSeen = peer.LastSeen
		return
	}

	p.byID[peer.ID] = peer
}

// UpsertPaired records a peer whose certificate is trusted and moves it to
// the Paired state, keyed by its certificate-derived ID. A provisional
// Discovered entry lives under its own instance-name key and is left in
// place.
func (p *PeerSet) UpsertPaired(peer *Peer) {
	p.Lock()
	defer p.Unlock()

	peer.State = Paired
	p.byID[peer.ID] = peer
}

// UpsertInbound records a peer authenticated on an inbound connection. An
// existing record keeps its dialable address; only the certificate, state,
// and last-seen time are refreshed. The remote address of an inbound
// connection carries the caller's ephemeral client port, never its listen
// port, so it is not a dialable address and is never stored.
func (p *PeerSet) UpsertInbound(peer *Peer) {
	p.Lock()
	defer p.Unlock()

	peer.State = Paired
	if existing, ok := p.byID[peer.ID]; ok {
		existing.Certificate = peer.Certificate
		existing.LastSeen = peer.LastSeen
		existing.State = Paired
		return
	}

	p.byID[peer.ID] = peer
}

// Get returns a copy of the peer with the given ID.
func (p *PeerSet) Get(id string) (Peer, bool) {
	p.RLock()
	defer p.RUnlock()

	peer, ok := p.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// SetState moves a peer to the given state.
func (p *PeerSet) SetState(id string, state State) {
	p.Lock()
	defer p.Unlock()

	if peer, ok := p.byID[id]; ok {
		peer.State = state
	}
}

// Paired returns copies of all peers eligible for syncing, sorted by ID for
// a stable round order. Synced and Failed count as Paired: both fall back to
// it for the next round, and the registry keeps the last outcome visible
// rather than eagerly resetting it.
func (p *PeerSet) Paired() []Peer {
	p.RLock()
	defer p.RUnlock()

	res := []Peer{}
	for _, peer := range p.byID {
		if peer.Trusted() && peer.State != Discovered && peer.State != Syncing {
			res = append(res, *peer)
		}
	}

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res
}

// All returns copies of every peer in the registry, sorted by ID.
func (p *PeerSet) All() []Peer {
	p.RLock()
	defer p.RUnlock()

	res := []Peer{}
	for _, peer := range p.byID {
		res = append(res, *peer)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res
}

// Len ...
func (p *PeerSet) Len() int {
	p.RLock()
	defer p.RUnlock()

	return len(p.byID)
}
