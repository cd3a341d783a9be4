// Package sync drives the changeset exchange between classlog devices.
//
// The orchestrator runs two halves. The outbound half iterates the paired
// peers, opens a secure channel to each as a client, and runs the initiator
// side of the exchange: send the local pending changeset, then receive and
// apply the peer's. The inbound half is a background accept loop that hands
// each authenticated connection to its own responder task: receive and apply
// first, then send.
//
// One session therefore moves exactly two frames, and both sides end up
// holding the union of each other's prior changes. After a fully successful
// session, and only then, the per-peer sync state is recorded; a failure for
// one peer is logged and isolated, so the next round retries from the last
// known-good checkpoint and other peers are unaffected.
package sync
