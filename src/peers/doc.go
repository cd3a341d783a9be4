// Package peers defines the concept of a classlog peer and implements the
// in-memory registry the sync engine works from.
//
// A peer is another device operating an independent copy of the same record
// store. Peers surface through two channels: mDNS discovery, which yields an
// address but no identity proof, and pairing, which yields a trusted
// certificate. The registry tracks both, along with each peer's position in
// the session state machine:
//
//	Discovered -> Paired -> Syncing -> {Synced | Failed} -> Paired
//
// Discovered means an address is known but no certificate is trusted yet.
// Paired means trust is established, via pairing or on first inbound contact.
// Only Paired peers are eligible for syncing. Synced and Failed both return
// to Paired for the next round.
//
// The registry is ephemeral. It is rebuilt by discovery and pairing on every
// run; the durable artifacts (pinned certificates, sync state) live in the
// keystore and the record store respectively.
package peers
