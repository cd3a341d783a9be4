package store

import "time"

// ChangeLogStore is the narrow interface through which the sync engine
// touches the record store: export the changes pending for a peer, and apply
// an incoming changeset. Implementations must make ApplyIncomingChanges
// all-or-nothing.
type ChangeLogStore interface {
	// PendingChangesForPeer computes the changes accumulated since the last
	// recorded checkpoint for the peer and returns them as one opaque blob.
	PendingChangesForPeer(peerID string) ([]byte, error)

	// ApplyIncomingChanges applies a changeset received from a peer.
	// Incoming rows replace local rows with the same primary key. The apply
	// is atomic: on any constraint violation the store is left byte-for-byte
	// unchanged and a MergeError is returned.
	ApplyIncomingChanges(data []byte, peerID string) error
}

// SyncState is the durable per-peer bookkeeping row, created on first
// successful exchange and updated, never deleted, thereafter.
type SyncState struct {
	PeerID          string     `json:"peer_id"`
	LastSeq         int64      `json:"last_seq"`
	LastPullAt      *time.Time `json:"last_pull_at"`
	LastPushAt      *time.Time `json:"last_push_at"`
	ChangesetDigest string     `json:"changeset_digest"`
}

// SyncStateStore persists the outcome of exchange sessions. It is written
// exclusively by the sync orchestrator, and only after a fully successful
// exchange; a failed session must leave the previous state untouched.
type SyncStateStore interface {
	// SyncState returns the bookkeeping row for a peer, or a zero-valued
	// row when the peer has never completed an exchange.
	SyncState(peerID string) (SyncState, error)

	// RecordSyncResult marks a fully successful exchange with a peer:
	// last_seq is incremented, both timestamps are set to now, the digest
	// of the exported changeset is recorded, and the peer's export
	// checkpoint advances past everything that was just sent.
	RecordSyncResult(peerID string, digest string) error
}
