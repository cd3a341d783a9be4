package sync

import "errors"

var (
	// ErrUnknownPeer is returned when syncing with a peer that is not in
	// the registry.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrPeerNotPaired is returned when syncing with a peer that has no
	// trusted certificate yet.
	ErrPeerNotPaired = errors.New("peer is not paired")
)
