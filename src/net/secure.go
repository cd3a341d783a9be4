package net

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/classlog/classlog/src/crypto"
)

// SecureStreamLayer establishes encrypted, certificate-authenticated
// connections between devices. It serves both roles: accepting inbound
// connections with a required client certificate, and dialing out with the
// pinned certificate of the target peer.
type SecureStreamLayer struct {
	creds  crypto.CredentialStore
	logger *logrus.Entry
}

// NewSecureStreamLayer ...
func NewSecureStreamLayer(creds crypto.CredentialStore, logger *logrus.Entry) *SecureStreamLayer {
	return &SecureStreamLayer{
		creds:  creds,
		logger: logger,
	}
}

// Listen binds a TLS listener on bindAddr. Accepted connections require a
// client certificate; if a certificate is already pinned for the presented
// identity, a different certificate fails the handshake.
func (s *SecureStreamLayer) Listen(bindAddr string) (net.Listener, error) {
	config, err := s.serverConfig()
	if err != nil {
		return nil, err
	}

	listener, err := tls.Listen("tcp", bindAddr, config)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("bind_addr", listener.Addr().String()).Info("listening for sync connections")

	return listener, nil
}

// Dial opens a connection to a peer and performs the client handshake. The
// remote certificate is validated against the single certificate pinned for
// peerID; a mismatch, or the absence of a pinned certificate, fails the
// handshake. Trust is only ever established through pairing or inbound
// first contact, never here.
func (s *SecureStreamLayer) Dial(peerID, address string, timeout time.Duration) (*tls.Conn, error) {
	pinned, err := s.pinnedCertificate(peerID)
	if err != nil {
		return nil, &HandshakeError{PeerID: peerID, Err: err}
	}

	config, err := s.clientConfig(peerID, pinned)
	if err != nil {
		return nil, &HandshakeError{PeerID: peerID, Err: err}
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(&dialer, "tcp", address, config)
	if err != nil {
		return nil, &HandshakeError{PeerID: peerID, Err: err}
	}

	return conn, nil
}

// IdentifyInbound completes the handshake on an accepted connection and
// returns the peer identity and certificate it presented. When no
// certificate is pinned yet for that identity, the presented one is pinned
// (trust-on-first-use).
func (s *SecureStreamLayer) IdentifyInbound(conn *tls.Conn) (peerID string, certPEM string, err error) {
	if err := conn.Handshake(); err != nil {
		return "", "", &HandshakeError{Err: err}
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", "", &HandshakeError{Err: ErrNoClientCertificate}
	}

	leaf := state.PeerCertificates[0]
	peerID, err = crypto.DeviceIDFromCert(leaf)
	if err != nil {
		return "", "", &HandshakeError{Err: err}
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}))

	_, err = s.creds.PeerCertificate(peerID)
	if errors.Is(err, crypto.ErrNoPeerCertificate) {
		if err := s.creds.StorePeerCertificate(peerID, certPEM); err != nil {
			return "", "", err
		}
		s.logger.WithField("peer", peerID).Info("pinned certificate on first contact")
	} else if err != nil {
		return "", "", err
	}

	return peerID, certPEM, nil
}

func (s *SecureStreamLayer) serverConfig() (*tls.Config, error) {
	own, err := s.ownCertificate()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{own},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.RequireAnyClientCert,
		// The connecting device is self-signed, so chain verification does
		// not apply. The identity in the presented certificate must match
		// the pinned certificate when one exists; unknown identities are
		// admitted here and pinned after the handshake.
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrNoClientCertificate
			}

			peerID, err := crypto.DeviceIDFromRawCert(rawCerts[0])
			if err != nil {
				return err
			}

			pinnedPEM, err := s.creds.PeerCertificate(peerID)
			if errors.Is(err, crypto.ErrNoPeerCertificate) {
				return nil
			}
			if err != nil {
				return err
			}

			pinned, err := crypto.ParseCertificatePEM(pinnedPEM)
			if err != nil {
				return err
			}
			if !bytes.Equal(pinned.Raw, rawCerts[0]) {
				return fmt.Errorf("certificate does not match the one pinned for %s", peerID)
			}
			return nil
		},
	}, nil
}

func (s *SecureStreamLayer) clientConfig(peerID string, pinned *x509.Certificate) (*tls.Config, error) {
	own, err := s.ownCertificate()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{own},
		MinVersion:   tls.VersionTLS12,
		// Chain and hostname verification are disabled in favour of exact
		// certificate pinning below.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			if !bytes.Equal(pinned.Raw, rawCerts[0]) {
				return fmt.Errorf("certificate does not match the one pinned for %s", peerID)
			}
			return nil
		},
	}, nil
}

func (s *SecureStreamLayer) pinnedCertificate(peerID string) (*x509.Certificate, error) {
	pinnedPEM, err := s.creds.PeerCertificate(peerID)
	if err != nil {
		return nil, err
	}
	return crypto.ParseCertificatePEM(pinnedPEM)
}

func (s *SecureStreamLayer) ownCertificate() (tls.Certificate, error) {
	certPEM, keyPEM, err := s.creds.OwnCertificate()
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
}
