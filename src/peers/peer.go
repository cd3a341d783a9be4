package peers

import (
	"time"
)

// State captures the position of a peer in the per-session state machine.
type State uint32

const (
	// Discovered means an address is known but no certificate is trusted.
	Discovered State = iota
	// Paired means trust is established and the peer is eligible for sync.
	Paired
	// Syncing means an exchange session with the peer is in flight.
	Syncing
	// Synced means the last exchange session completed successfully.
	Synced
	// Failed means the last exchange session was aborted.
	Failed
)

// String ...
func (s State) String() string {
	switch s {
	case Discovered:
		return "Discovered"
	case Paired:
		return "Paired"
	case Syncing:
		return "Syncing"
	case Synced:
		return "Synced"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Peer is one entry of the registry.
type Peer struct {
	// ID is the peer's device ID. For paired peers it is derived from the
	// peer's certificate; for merely discovered peers it is provisional,
	// parsed from the advertised mDNS instance name.
	ID string `json:"id"`

	// NetAddr is the ip:port where the peer accepts sync connections.
	NetAddr string `json:"net_addr"`

	// LastSeen is the time of the last discovery event or session involving
	// this peer.
	LastSeen time.Time `json:"last_seen"`

	// Certificate is the peer's PEM certificate, empty until pairing or
	// first inbound contact.
	Certificate string `json:"-"`

	// State is the peer's position in the session state machine.
	State State `json:"state"`
}

// NewPeer returns a Peer in the Discovered state.
func NewPeer(id, netAddr string) *Peer {
	return &Peer{
		ID:       id,
		NetAddr:  netAddr,
		LastSeen: time.Now(),
		State:    Discovered,
	}
}

// Trusted reports whether the peer holds a certificate.
func (p *Peer) Trusted() bool {
	return p.Certificate != ""
}
