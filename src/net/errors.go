package net

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelShutdown is returned when operations on a listener are
	// invoked after it's been terminated.
	ErrChannelShutdown = errors.New("secure channel shutdown")

	// ErrNoClientCertificate is returned when an inbound handshake completes
	// without a client certificate.
	ErrNoClientCertificate = errors.New("peer presented no certificate")
)

// HandshakeError wraps a TLS or trust failure. The session is aborted and no
// trust state is changed.
type HandshakeError struct {
	PeerID string
	Err    error
}

// Error ...
func (e *HandshakeError) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("handshake with %s failed: %v", e.PeerID, e.Err)
	}
	return fmt.Sprintf("handshake failed: %v", e.Err)
}

// Unwrap ...
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// FramingError signals a truncated stream or an absurd length prefix. The
// session is aborted.
type FramingError struct {
	Reason string
	Err    error
}

// Error ...
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("framing error: %s", e.Reason)
}

// Unwrap ...
func (e *FramingError) Unwrap() error {
	return e.Err
}
