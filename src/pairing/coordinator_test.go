package pairing

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlog/classlog/src/common"
	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/peers"
)

// memCreds is an in-memory CredentialStore for tests.
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

func newTestCoordinator(t *testing.T, deviceID string, clock clockwork.Clock) (*Coordinator, *memCreds, *peers.PeerSet) {
	creds := newMemCreds(t, deviceID)
	peerSet := peers.NewPeerSet()

	coordinator := NewCoordinator(
		creds,
		peerSet,
		clock,
		common.NewTestEntry(t, "pairing"),
	)

	return coordinator, creds, peerSet
}

func TestGeneratePinFormat(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, "alice", clockwork.NewFakeClock())

	for i := 0; i < 20; i++ {
		active, err := coordinator.GeneratePin()
		require.NoError(t, err)

		require.Len(t, active.Pin, 6)
		for _, r := range active.Pin {
			require.True(t, r >= '0' && r <= '9', "PIN %q is not numeric", active.Pin)
		}
		assert.EqualValues(t, PinTTL/time.Second, active.ExpiresInSeconds)
	}
}

func TestRedeemPinWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer, issuerCreds, issuerPeers := newTestCoordinator(t, "alice", clock)

	active, err := issuer.GeneratePin()
	require.NoError(t, err)

	// 1 second before expiry the PIN must still resolve.
	clock.Advance(PinTTL - time.Second)

	peerID, err := issuer.ProcessPairingInput(active.Pin, "192.168.1.20:8080")
	require.NoError(t, err)
	assert.Equal(t, "alice", peerID)

	// The embedded certificate was pinned and the peer registered as Paired.
	pinned, err := issuerCreds.PeerCertificate("alice")
	require.NoError(t, err)
	assert.Equal(t, issuerCreds.certPEM, pinned)

	peer, ok := issuerPeers.Get("alice")
	require.True(t, ok)
	assert.Equal(t, peers.Paired, peer.State)
	assert.Equal(t, "192.168.1.20:8080", peer.NetAddr)
}

func TestRedeemPinAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer, _, _ := newTestCoordinator(t, "alice", clock)

	active, err := issuer.GeneratePin()
	require.NoError(t, err)

	// 1 second past expiry the PIN must be rejected.
	clock.Advance(PinTTL + time.Second)

	_, err = issuer.ProcessPairingInput(active.Pin, "192.168.1.20:8080")
	require.Error(t, err)
	assert.True(t, Is(err, InvalidOrExpiredPin))
}

func TestRedeemPinTwice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer, _, _ := newTestCoordinator(t, "alice", clock)

	active, err := issuer.GeneratePin()
	require.NoError(t, err)

	_, err = issuer.ProcessPairingInput(active.Pin, "192.168.1.20:8080")
	require.NoError(t, err)

	// A PIN is consumed on first redemption.
	_, err = issuer.ProcessPairingInput(active.Pin, "192.168.1.20:8080")
	require.Error(t, err)
	assert.True(t, Is(err, InvalidOrExpiredPin))
}

func TestUnknownPin(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, "alice", clockwork.NewFakeClock())

	_, err := coordinator.ProcessPairingInput("123456", "192.168.1.20:8080")
	require.Error(t, err)
	assert.True(t, Is(err, InvalidOrExpiredPin))
}

func TestCurrentPin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	coordinator, _, _ := newTestCoordinator(t, "alice", clock)

	_, ok := coordinator.CurrentPin()
	require.False(t, ok)

	first, err := coordinator.GeneratePin()
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = coordinator.GeneratePin()
	require.NoError(t, err)

	// The PIN closest to expiry is the one reported.
	current, ok := coordinator.CurrentPin()
	require.True(t, ok)
	assert.Equal(t, first.Pin, current.Pin)

	clock.Advance(PinTTL)

	_, ok = coordinator.CurrentPin()
	assert.False(t, ok)
}

func TestClearPins(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, "alice", clockwork.NewFakeClock())

	active, err := coordinator.GeneratePin()
	require.NoError(t, err)

	coordinator.ClearPins()

	_, ok := coordinator.CurrentPin()
	assert.False(t, ok)

	_, err = coordinator.ProcessPairingInput(active.Pin, "192.168.1.20:8080")
	require.Error(t, err)
	assert.True(t, Is(err, InvalidOrExpiredPin))
}

func TestPairingCodeRoundtrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	alice, aliceCreds, _ := newTestCoordinator(t, "alice", clock)
	bob, bobCreds, bobPeers := newTestCoordinator(t, "bob", clock)

	code, err := alice.GeneratePairingCode()
	require.NoError(t, err)

	peerID, err := bob.ProcessPairingInput(code, "192.168.1.10:8080")
	require.NoError(t, err)
	assert.Equal(t, "alice", peerID)

	pinned, err := bobCreds.PeerCertificate("alice")
	require.NoError(t, err)
	assert.Equal(t, aliceCreds.certPEM, pinned)

	peer, ok := bobPeers.Get("alice")
	require.True(t, ok)
	assert.True(t, peer.Trusted())
}

func TestMalformedPairingInput(t *testing.T) {
	coordinator, creds, peerSet := newTestCoordinator(t, "alice", clockwork.NewFakeClock())

	malformed := []string{
		"not base64 at all!!",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		base64.StdEncoding.EncodeToString([]byte(`{"device_id":"","certificate":"","timestamp":0}`)),
		base64.StdEncoding.EncodeToString([]byte(`{"device_id":"bob","timestamp":0}`)),
	}

	for _, input := range malformed {
		_, err := coordinator.ProcessPairingInput(input, "192.168.1.20:8080")
		require.Error(t, err)
		assert.True(t, Is(err, MalformedPayload), "input %q", input)
	}

	// No partial state was left behind.
	assert.Empty(t, creds.peerCerts)
	assert.Equal(t, 0, peerSet.Len())
}
