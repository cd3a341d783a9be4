package net

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlog/classlog/src/common"
	"github.com/classlog/classlog/src/crypto"
)

type memCreds struct {
	deviceID  string
	certPEM   string
	keyPEM    string
	peerCerts map[string]string
}

func newMemCreds(t *testing.T, deviceID string) *memCreds {
	certPEM, keyPEM, err := crypto.GenerateCertificate(deviceID)
	require.NoError(t, err)

	return &memCreds{
		deviceID:  deviceID,
		certPEM:   certPEM,
		keyPEM:    keyPEM,
		peerCerts: map[string]string{},
	}
}

func (m *memCreds) DeviceID() string {
	return m.deviceID
}

func (m *memCreds) OwnCertificate() (string, string, error) {
	return m.certPEM, m.keyPEM, nil
}

func (m *memCreds) StorePeerCertificate(peerID string, certPEM string) error {
	m.peerCerts[peerID] = certPEM
	return nil
}

func (m *memCreds) PeerCertificate(peerID string) (string, error) {
	certPEM, ok := m.peerCerts[peerID]
	if !ok {
		return "", crypto.ErrNoPeerCertificate
	}
	return certPEM, nil
}

type inboundResult struct {
	peerID  string
	payload []byte
	err     error
}

// acceptOne accepts a single connection, identifies the caller, and echoes
// one frame back.
func acceptOne(listener net.Listener, layer *SecureStreamLayer, results chan<- inboundResult) {
	conn, err := listener.Accept()
	if err != nil {
		results <- inboundResult{err: err}
		return
	}
	defer conn.Close()

	peerID, _, err := layer.IdentifyInbound(conn.(*tls.Conn))
	if err != nil {
		results <- inboundResult{err: err}
		return
	}

	payload, err := ReadFrame(conn)
	if err != nil {
		results <- inboundResult{peerID: peerID, err: err}
		return
	}

	if err := WriteFrame(conn, payload); err != nil {
		results <- inboundResult{peerID: peerID, err: err}
		return
	}

	results <- inboundResult{peerID: peerID, payload: payload}
}

func TestSecureExchange(t *testing.T) {
	aliceCreds := newMemCreds(t, "alice")
	bobCreds := newMemCreds(t, "bob")

	alice := NewSecureStreamLayer(aliceCreds, common.NewTestEntry(t, "alice"))
	bob := NewSecureStreamLayer(bobCreds, common.NewTestEntry(t, "bob"))

	// Bob pinned Alice's certificate through pairing.
	require.NoError(t, bobCreds.StorePeerCertificate("alice", aliceCreds.certPEM))

	listener, err := alice.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	results := make(chan inboundResult, 1)
	go acceptOne(listener, alice, results)

	conn, err := bob.Dial("alice", listener.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte("changeset")))

	echoed, err := ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, []byte("changeset"), echoed)

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "bob", res.peerID)
	assert.Equal(t, []byte("changeset"), res.payload)

	// Alice had nothing pinned for Bob, so first contact pinned his
	// certificate.
	pinned, err := aliceCreds.PeerCertificate("bob")
	require.NoError(t, err)
	assert.Equal(t, bobCreds.certPEM, pinned)
}

func TestDialWithoutPinnedCertificate(t *testing.T) {
	bobCreds := newMemCreds(t, "bob")
	bob := NewSecureStreamLayer(bobCreds, common.NewTestEntry(t, "bob"))

	_, err := bob.Dial("alice", "127.0.0.1:1", time.Second)
	require.Error(t, err)

	handshakeErr := &HandshakeError{}
	require.ErrorAs(t, err, &handshakeErr)
	assert.Equal(t, "alice", handshakeErr.PeerID)
	assert.ErrorIs(t, err, crypto.ErrNoPeerCertificate)
}

func TestDialRejectsWrongServerCertificate(t *testing.T) {
	aliceCreds := newMemCreds(t, "alice")
	bobCreds := newMemCreds(t, "bob")
	malloryCreds := newMemCreds(t, "mallory")

	alice := NewSecureStreamLayer(aliceCreds, common.NewTestEntry(t, "alice"))
	bob := NewSecureStreamLayer(bobCreds, common.NewTestEntry(t, "bob"))

	// Bob holds the wrong certificate under Alice's identity.
	require.NoError(t, bobCreds.StorePeerCertificate("alice", malloryCreds.certPEM))

	listener, err := alice.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err == nil {
			alice.IdentifyInbound(conn.(*tls.Conn))
			conn.Close()
		}
	}()

	_, err = bob.Dial("alice", listener.Addr().String(), time.Second)
	require.Error(t, err)
}

func TestInboundRejectsImpersonator(t *testing.T) {
	aliceCreds := newMemCreds(t, "alice")
	bobCreds := newMemCreds(t, "bob")

	// Mallory presents a self-signed certificate claiming Bob's identity.
	malloryCreds := newMemCreds(t, "bob")

	alice := NewSecureStreamLayer(aliceCreds, common.NewTestEntry(t, "alice"))
	mallory := NewSecureStreamLayer(malloryCreds, common.NewTestEntry(t, "mallory"))

	// Alice already pinned the real Bob.
	require.NoError(t, aliceCreds.StorePeerCertificate("bob", bobCreds.certPEM))
	require.NoError(t, malloryCreds.StorePeerCertificate("alice", aliceCreds.certPEM))

	listener, err := alice.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	results := make(chan inboundResult, 1)
	go acceptOne(listener, alice, results)

	// Depending on the TLS version the rejection surfaces either at the
	// handshake or on the first read.
	conn, err := mallory.Dial("alice", listener.Addr().String(), time.Second)
	if err == nil {
		WriteFrame(conn, []byte("changeset"))
		_, err = ReadFrame(conn)
		conn.Close()
	}
	require.Error(t, err)

	res := <-results
	require.Error(t, res.err)

	// The pin for the real Bob is untouched.
	pinned, err := aliceCreds.PeerCertificate("bob")
	require.NoError(t, err)
	assert.Equal(t, bobCreds.certPEM, pinned)
}
