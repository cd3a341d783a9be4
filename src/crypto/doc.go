// Package crypto manages the cryptographic identity of a classlog device.
//
// Every device owns a self-signed x509 certificate whose subject carries the
// device ID. The certificate doubles as the device's network identity: it is
// presented on both sides of the mutually-authenticated TLS handshake used by
// the sync engine, and exchanged out-of-band during pairing. There is no
// certificate authority; trust is established per-peer by pinning the exact
// certificate obtained through pairing, or on first contact for inbound
// connections.
//
// The Keystore persists the device ID, the device's certificate and private
// key, and the pinned peer certificates in a Badger database under the
// keystore directory.
package crypto
