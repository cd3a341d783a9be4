// Package discovery advertises this device and browses for peers on the
// local network using mDNS service discovery.
//
// Every classlog device registers a `_classlog._tcp` service instance named
// after a prefix of its device ID, and browses for instances of the same
// type. Resolved entries are inserted into the peer registry in the
// Discovered state; they carry an address but no identity proof, which only
// pairing or a first inbound TLS contact can provide. Peers that go offline
// are not evicted.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/classlog/classlog/src/peers"
)

const (
	// ServiceType is the mDNS service type advertised and browsed.
	ServiceType = "_classlog._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// instancePrefix prefixes the advertised instance name.
	instancePrefix = "device-"

	// idPrefixLen is how many characters of the device ID make it into the
	// instance name.
	idPrefixLen = 8
)

// Service advertises this node and maintains the Discovered entries of the
// peer registry. Start and Stop are idempotent.
type Service struct {
	deviceID string
	peers    *peers.PeerSet
	logger   *logrus.Entry

	mu       sync.Mutex
	server   *zeroconf.Server
	cancel   context.CancelFunc
	browseWg sync.WaitGroup
}

// NewService ...
func NewService(deviceID string, peerSet *peers.PeerSet, logger *logrus.Entry) *Service {
	return &Service{
		deviceID: deviceID,
		peers:    peerSet,
		logger:   logger,
	}
}

// InstanceName returns the mDNS instance name advertised for a device ID.
func InstanceName(deviceID string) string {
	id := deviceID
	if len(id) > idPrefixLen {
		id = id[:idPrefixLen]
	}
	return instancePrefix + id
}

// Start registers the service instance advertising the given port and begins
// browsing for peers. A registration or browse failure is fatal to discovery
// and returned to the caller; it does not tear down anything else.
func (s *Service) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	instance := InstanceName(s.deviceID)

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, []string{"id=" + instance}, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	entries := make(chan *zeroconf.ServiceEntry)
	s.browseWg.Add(1)
	go func() {
		defer s.browseWg.Done()
		for entry := range entries {
			s.handleEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("browsing mDNS services: %w", err)
	}

	s.server = server
	s.cancel = cancel

	s.logger.WithFields(logrus.Fields{
		"instance": instance,
		"port":     port,
	}).Info("discovery started")

	return nil
}

// Stop unregisters the service and cancels browsing. Sessions already
// brokered through discovered addresses are unaffected.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return
	}

	s.cancel()
	s.server.Shutdown()
	s.browseWg.Wait()

	s.server = nil
	s.cancel = nil

	s.logger.Info("discovery stopped")
}

// handleEntry upserts a Discovered peer from a resolved service entry.
// Self-advertisements and entries without an address are dropped.
func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	if !strings.HasPrefix(entry.Instance, instancePrefix) {
		return
	}
	if entry.Instance == InstanceName(s.deviceID) {
		return
	}
	if len(entry.AddrIPv4) == 0 {
		return
	}

	// The instance label is only a provisional identity. It is replaced by
	// the certificate-derived ID once the peer is paired.
	peerID := entry.Instance
	addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)

	s.peers.UpsertDiscovered(peers.NewPeer(peerID, addr))

	s.logger.WithFields(logrus.Fields{
		"peer":    peerID,
		"address": addr,
	}).Debug("discovered peer")
}
