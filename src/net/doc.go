// Package net implements the secure channel and wire framing used between
// classlog devices.
//
// A channel is a TLS connection where both ends present their self-signed
// device certificate. There is no certificate authority. On the client side
// the remote certificate is validated against the single certificate pinned
// for the target peer ID; a first contact with no pinned certificate fails
// the handshake rather than trusting silently. On the server side a client
// certificate is required; if a certificate is already pinned for the
// presented identity it must match, otherwise the presented certificate is
// pinned on first use.
//
// Framing on an established channel is a u64 little-endian byte count
// followed by that many payload bytes. The payload is an opaque changeset
// blob; integrity comes from the transport encryption, not from this layer.
package net
