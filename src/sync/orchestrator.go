package sync

import (
	"crypto/tls"
	gonet "net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/net"
	"github.com/classlog/classlog/src/peers"
	"github.com/classlog/classlog/src/store"
)

// Store is what the orchestrator needs from the record store: the change-log
// operations plus the sync-state bookkeeping.
type Store interface {
	store.ChangeLogStore
	store.SyncStateStore
}

// Orchestrator runs the inbound accept loop and the outbound sync rounds.
type Orchestrator struct {
	tasks

	creds  crypto.CredentialStore
	peers  *peers.PeerSet
	stream *net.SecureStreamLayer
	store  Store
	logger *logrus.Entry

	dialTimeout time.Duration

	listener     gonet.Listener
	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewOrchestrator instantiates an Orchestrator with a session limit of
// maxSessions concurrent inbound exchanges.
func NewOrchestrator(
	creds crypto.CredentialStore,
	peerSet *peers.PeerSet,
	stream *net.SecureStreamLayer,
	st Store,
	dialTimeout time.Duration,
	maxSessions int,
	logger *logrus.Entry,
) *Orchestrator {
	return &Orchestrator{
		tasks:       tasks{limit: int32(maxSessions)},
		creds:       creds,
		peers:       peerSet,
		stream:      stream,
		store:       st,
		logger:      logger,
		dialTimeout: dialTimeout,
		shutdownCh:  make(chan struct{}),
	}
}

// Start binds the secure listener on bindAddr and launches the accept loop.
func (o *Orchestrator) Start(bindAddr string) error {
	listener, err := o.stream.Listen(bindAddr)
	if err != nil {
		return err
	}

	o.listener = listener

	go o.listen()

	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (o *Orchestrator) Addr() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

// Stop aborts the accept loop. Sessions already in flight are not cancelled;
// they run to completion on their own goroutines.
func (o *Orchestrator) Stop() {
	o.shutdownLock.Lock()
	defer o.shutdownLock.Unlock()

	if o.shutdown {
		return
	}
	o.shutdown = true

	close(o.shutdownCh)
	if o.listener != nil {
		o.listener.Close()
	}
}

// IsShutdown ...
func (o *Orchestrator) IsShutdown() bool {
	select {
	case <-o.shutdownCh:
		return true
	default:
		return false
	}
}

// listen accepts inbound connections and hands each one to its own
// responder task.
func (o *Orchestrator) listen() {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			if o.IsShutdown() {
				return
			}
			o.logger.WithField("error", err).Error("failed to accept connection")
			continue
		}

		o.logger.WithField("from", conn.RemoteAddr()).Debug("accepted connection")

		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			conn.Close()
			continue
		}

		if !o.goFunc(func() { o.handleConn(tlsConn) }) {
			o.logger.WithField("from", conn.RemoteAddr()).Warn("session limit reached, dropping connection")
			conn.Close()
		}
	}
}

// handleConn runs the responder side of one exchange session. Errors are
// logged and isolated; they never affect the accept loop or other sessions.
func (o *Orchestrator) handleConn(conn *tls.Conn) {
	defer conn.Close()

	peerID, certPEM, err := o.stream.IdentifyInbound(conn)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"from":  conn.RemoteAddr(),
			"error": err,
		}).Error("inbound handshake failed")
		return
	}

	logger := o.logger.WithField("peer", peerID)

	// The remote address of an inbound connection is the caller's ephemeral
	// client port, not its listen address, so no address is recorded here; a
	// known peer keeps the dialable address it was paired with.
	peer := peers.NewPeer(peerID, "")
	peer.Certificate = certPEM
	o.peers.UpsertInbound(peer)
	o.peers.SetState(peerID, peers.Syncing)

	if err := o.respond(conn, peerID); err != nil {
		logger.WithField("error", err).Error("inbound sync failed")
		o.peers.SetState(peerID, peers.Failed)
		return
	}

	o.peers.SetState(peerID, peers.Synced)
	logger.Info("inbound sync completed")
}

// respond receives and applies the initiator's changeset, then sends ours
// back, and records the outcome.
func (o *Orchestrator) respond(conn *tls.Conn, peerID string) error {
	incoming, err := net.ReadFrame(conn)
	if err != nil {
		return err
	}

	if err := o.store.ApplyIncomingChanges(incoming, peerID); err != nil {
		return err
	}

	outgoing, err := o.store.PendingChangesForPeer(peerID)
	if err != nil {
		return err
	}

	if err := net.WriteFrame(conn, outgoing); err != nil {
		return err
	}

	return o.store.RecordSyncResult(peerID, store.Digest(outgoing))
}

// SyncAll runs one outbound round: a client-side exchange with every paired
// peer. A failure for one peer is logged and does not prevent attempting the
// rest; its sync state is left untouched so the retry starts from the last
// known-good checkpoint.
func (o *Orchestrator) SyncAll() {
	for _, peer := range o.peers.Paired() {
		if err := o.SyncPeer(peer.ID); err != nil {
			o.logger.WithFields(logrus.Fields{
				"peer":  peer.ID,
				"error": err,
			}).Error("sync with peer failed")
		}
	}
}

// SyncPeer runs the initiator side of one exchange session with a peer.
func (o *Orchestrator) SyncPeer(peerID string) error {
	peer, ok := o.peers.Get(peerID)
	if !ok {
		return ErrUnknownPeer
	}
	if !peer.Trusted() {
		return ErrPeerNotPaired
	}

	o.peers.SetState(peerID, peers.Syncing)

	err := o.initiate(peer)
	if err != nil {
		o.peers.SetState(peerID, peers.Failed)
		return err
	}

	o.peers.SetState(peerID, peers.Synced)
	o.logger.WithField("peer", peerID).Info("outbound sync completed")

	return nil
}

// initiate dials the peer and runs the send-then-receive exchange. The
// change-log lock is taken inside the store calls only, never across the
// network reads and writes here.
func (o *Orchestrator) initiate(peer peers.Peer) error {
	conn, err := o.stream.Dial(peer.ID, peer.NetAddr, o.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	outgoing, err := o.store.PendingChangesForPeer(peer.ID)
	if err != nil {
		return err
	}

	if err := net.WriteFrame(conn, outgoing); err != nil {
		return err
	}

	incoming, err := net.ReadFrame(conn)
	if err != nil {
		return err
	}

	if err := o.store.ApplyIncomingChanges(incoming, peer.ID); err != nil {
		return err
	}

	return o.store.RecordSyncResult(peer.ID, store.Digest(outgoing))
}
