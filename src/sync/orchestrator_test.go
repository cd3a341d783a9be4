package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlog/classlog/src/common"
	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/net"
	"github.com/classlog/classlog/src/peers"
	"github.com/classlog/classlog/src/store"
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

type testNode struct {
	creds *memCreds
	store *store.SQLiteStore
	peers *peers.PeerSet
	orch  *Orchestrator
}

func newTestNode(t *testing.T, deviceID string) *testNode {
	creds := newMemCreds(t, deviceID)
	peerSet := peers.NewPeerSet()

	st, err := store.NewSQLiteStore(
		filepath.Join(t.TempDir(), "classlog.db"),
		deviceID,
		common.NewTestEntry(t, deviceID),
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orch := NewOrchestrator(
		creds,
		peerSet,
		net.NewSecureStreamLayer(creds, common.NewTestEntry(t, deviceID)),
		st,
		time.Second,
		4,
		common.NewTestEntry(t, deviceID),
	)

	require.NoError(t, orch.Start("127.0.0.1:0"))
	t.Cleanup(orch.Stop)

	return &testNode{creds: creds, store: st, peers: peerSet, orch: orch}
}

// pair establishes mutual trust between two nodes the way a completed
// pairing flow would.
func pair(t *testing.T, a, b *testNode) {
	require.NoError(t, a.creds.StorePeerCertificate(b.creds.deviceID, b.creds.certPEM))
	require.NoError(t, b.creds.StorePeerCertificate(a.creds.deviceID, a.creds.certPEM))

	peerB := peers.NewPeer(b.creds.deviceID, b.orch.Addr())
	peerB.Certificate = b.creds.certPEM
	a.peers.UpsertPaired(peerB)

	peerA := peers.NewPeer(a.creds.deviceID, a.orch.Addr())
	peerA.Certificate = a.creds.certPEM
	b.peers.UpsertPaired(peerA)
}

func rowCount(t *testing.T, s *store.SQLiteStore, table string) int64 {
	count, err := s.CountRows(table)
	require.NoError(t, err)
	return count
}

func TestTwoNodeExchange(t *testing.T) {
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")
	pair(t, alice, bob)

	require.NoError(t, alice.store.InsertClass(store.ClassRow{ID: 1, Name: "3a", SchoolYear: "2025/26"}))
	require.NoError(t, alice.store.InsertStudent(store.StudentRow{ID: 1, ClassID: 1, Name: "Milo"}))
	require.NoError(t, alice.store.InsertObservation(store.ObservationRow{
		ID: 1, StudentID: 1, AuthorID: 1, Category: "learning", Text: "counts to 100",
	}))

	require.NoError(t, bob.store.InsertClass(store.ClassRow{ID: 2, Name: "4b", SchoolYear: "2025/26"}))

	require.NoError(t, alice.orch.SyncPeer("bob"))

	// Bob received Alice's rows, Alice received Bob's class: the union.
	assert.EqualValues(t, 2, rowCount(t, alice.store, "classes"))
	assert.EqualValues(t, 2, rowCount(t, bob.store, "classes"))
	assert.EqualValues(t, 1, rowCount(t, bob.store, "students"))
	assert.EqualValues(t, 1, rowCount(t, bob.store, "observations"))

	obs, err := bob.store.Observation(1)
	require.NoError(t, err)
	assert.Equal(t, "counts to 100", obs.Text)

	peer, ok := alice.peers.Get("bob")
	require.True(t, ok)
	assert.Equal(t, peers.Synced, peer.State)

	// The initiator records its sync state synchronously.
	state, err := alice.store.SyncState("bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, state.LastSeq)
	require.NotNil(t, state.LastPushAt)

	// The responder finishes its bookkeeping asynchronously, after sending
	// its reply.
	require.Eventually(t, func() bool {
		peer, ok := bob.peers.Get("alice")
		return ok && peer.State == peers.Synced
	}, 2*time.Second, 10*time.Millisecond)

	state, err = bob.store.SyncState("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, state.LastSeq)
}

func TestInboundSessionPreservesDialBack(t *testing.T) {
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")
	pair(t, alice, bob)

	require.NoError(t, alice.store.InsertClass(store.ClassRow{ID: 1, Name: "3a", SchoolYear: "2025/26"}))

	require.NoError(t, alice.orch.SyncPeer("bob"))

	require.Eventually(t, func() bool {
		peer, ok := bob.peers.Get("alice")
		return ok && peer.State == peers.Synced
	}, 2*time.Second, 10*time.Millisecond)

	// Responding to Alice must not overwrite her listen address with the
	// ephemeral port her connection came from.
	peer, ok := bob.peers.Get("alice")
	require.True(t, ok)
	assert.Equal(t, alice.orch.Addr(), peer.NetAddr)

	// So Bob can still initiate the next round himself.
	require.NoError(t, bob.store.InsertClass(store.ClassRow{ID: 2, Name: "4b", SchoolYear: "2025/26"}))
	require.NoError(t, bob.orch.SyncPeer("alice"))

	assert.EqualValues(t, 2, rowCount(t, alice.store, "classes"))
}

func TestRepeatSyncDoesNotEcho(t *testing.T) {
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")
	pair(t, alice, bob)

	require.NoError(t, alice.store.InsertClass(store.ClassRow{ID: 1, Name: "3a", SchoolYear: "2025/26"}))

	require.NoError(t, alice.orch.SyncPeer("bob"))
	require.NoError(t, alice.orch.SyncPeer("bob"))

	// A second round moves no rows: applied rows are not re-logged, and
	// the checkpoint advanced after the first round.
	assert.EqualValues(t, 1, rowCount(t, alice.store, "classes"))
	assert.EqualValues(t, 1, rowCount(t, bob.store, "classes"))

	pending, err := alice.store.PendingChangeCount("bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)

	state, err := alice.store.SyncState("bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, state.LastSeq)
}

func TestSyncPeerUnknown(t *testing.T) {
	alice := newTestNode(t, "alice")

	err := alice.orch.SyncPeer("nobody")
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestSyncPeerNotPaired(t *testing.T) {
	alice := newTestNode(t, "alice")

	// Discovered but never paired: no certificate, not eligible.
	alice.peers.UpsertDiscovered(peers.NewPeer("device-aabbccdd", "192.168.1.20:8080"))

	err := alice.orch.SyncPeer("device-aabbccdd")
	assert.ErrorIs(t, err, ErrPeerNotPaired)
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	alice := newTestNode(t, "alice")
	bob := newTestNode(t, "bob")
	pair(t, alice, bob)

	// Carol is paired but unreachable.
	carolCreds := newMemCreds(t, "carol")
	require.NoError(t, alice.creds.StorePeerCertificate("carol", carolCreds.certPEM))
	carol := peers.NewPeer("carol", "127.0.0.1:1")
	carol.Certificate = carolCreds.certPEM
	alice.peers.UpsertPaired(carol)

	require.NoError(t, alice.store.InsertClass(store.ClassRow{ID: 1, Name: "3a", SchoolYear: "2025/26"}))

	alice.orch.SyncAll()

	// Bob still got the data despite Carol's failure.
	assert.EqualValues(t, 1, rowCount(t, bob.store, "classes"))

	peer, ok := alice.peers.Get("bob")
	require.True(t, ok)
	assert.Equal(t, peers.Synced, peer.State)

	peer, ok = alice.peers.Get("carol")
	require.True(t, ok)
	assert.Equal(t, peers.Failed, peer.State)

	// The failed peer's checkpoint did not advance; the rows are still
	// pending for the next attempt.
	pending, err := alice.store.PendingChangeCount("carol")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestStopIsIdempotent(t *testing.T) {
	alice := newTestNode(t, "alice")

	alice.orch.Stop()
	alice.orch.Stop()

	assert.True(t, alice.orch.IsShutdown())
}
