// Package classlog assembles the sync engine from its parts: credential
// store, record store, peer registry, discovery, pairing, orchestrator, and
// the optional HTTP service.
package classlog

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/classlog/classlog/src/config"
	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/discovery"
	"github.com/classlog/classlog/src/net"
	"github.com/classlog/classlog/src/pairing"
	"github.com/classlog/classlog/src/peers"
	"github.com/classlog/classlog/src/service"
	"github.com/classlog/classlog/src/store"
	syncer "github.com/classlog/classlog/src/sync"
)

// Classlog is a sync engine instance.
type Classlog struct {
	Config       *config.Config
	Keystore     *crypto.Keystore
	Store        *store.SQLiteStore
	Peers        *peers.PeerSet
	Discovery    *discovery.Service
	Coordinator  *pairing.Coordinator
	Orchestrator *syncer.Orchestrator
	Service      *service.Service

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewClasslog instantiates an engine with config. Init must be called before
// Run.
func NewClasslog(conf *config.Config) *Classlog {
	engine := &Classlog{
		Config:     conf,
		shutdownCh: make(chan struct{}),
	}

	return engine
}

func (c *Classlog) initKeystore() error {
	keystore, err := crypto.NewKeystore(c.Config.KeystoreDir)
	if err != nil {
		return err
	}

	// Generate the device certificate up front so that pairing and the TLS
	// layer never race on first use.
	if _, _, err := keystore.OwnCertificate(); err != nil {
		keystore.Close()
		return err
	}

	c.Keystore = keystore

	c.Config.Logger().WithField("device_id", keystore.DeviceID()).
		Debug("opened keystore")

	return nil
}

func (c *Classlog) initStore() error {
	st, err := store.NewSQLiteStore(
		c.Config.DatabaseFile,
		c.Keystore.DeviceID(),
		c.Config.Logger(),
	)
	if err != nil {
		return err
	}

	c.Store = st

	return nil
}

func (c *Classlog) initPeers() error {
	c.Peers = peers.NewPeerSet()
	return nil
}

func (c *Classlog) initDiscovery() error {
	if c.Config.NoDiscovery {
		c.Config.Logger().Debug("discovery disabled")
		return nil
	}

	c.Discovery = discovery.NewService(
		c.Keystore.DeviceID(),
		c.Peers,
		c.Config.Logger(),
	)

	return nil
}

func (c *Classlog) initCoordinator() error {
	c.Coordinator = pairing.NewCoordinator(
		c.Keystore,
		c.Peers,
		clockwork.NewRealClock(),
		c.Config.Logger(),
	)

	return nil
}

func (c *Classlog) initOrchestrator() error {
	c.Orchestrator = syncer.NewOrchestrator(
		c.Keystore,
		c.Peers,
		net.NewSecureStreamLayer(c.Keystore, c.Config.Logger()),
		c.Store,
		c.Config.DialTimeout,
		c.Config.MaxSessions,
		c.Config.Logger(),
	)

	return nil
}

func (c *Classlog) initService() error {
	if c.Config.NoService {
		return nil
	}

	c.Service = service.NewService(
		c.Config.ServiceAddr,
		c.Peers,
		c.Coordinator,
		c.Orchestrator,
		c.Store,
		c.Config.Logger(),
	)

	return nil
}

// Init builds all the components from the config. It does not open any
// network listener yet.
func (c *Classlog) Init() error {
	if err := c.initKeystore(); err != nil {
		return fmt.Errorf("initializing keystore: %w", err)
	}

	if err := c.initStore(); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	if err := c.initPeers(); err != nil {
		return err
	}

	if err := c.initDiscovery(); err != nil {
		return fmt.Errorf("initializing discovery: %w", err)
	}

	if err := c.initCoordinator(); err != nil {
		return err
	}

	if err := c.initOrchestrator(); err != nil {
		return err
	}

	if err := c.initService(); err != nil {
		return err
	}

	return nil
}

// Run opens the sync listener, starts mDNS advertisement, launches the HTTP
// service, and blocks until Shutdown is called.
func (c *Classlog) Run() error {
	bindAddr := fmt.Sprintf(":%d", c.Config.SyncPort)

	if err := c.Orchestrator.Start(bindAddr); err != nil {
		return fmt.Errorf("starting sync listener: %w", err)
	}

	c.Config.Logger().WithField("addr", c.Orchestrator.Addr()).
		Info("sync listener started")

	if c.Discovery != nil {
		if err := c.Discovery.Start(c.Config.SyncPort); err != nil {
			return fmt.Errorf("starting discovery: %w", err)
		}
	}

	if c.Service != nil {
		go c.Service.Serve()
	}

	<-c.shutdownCh

	return nil
}

// Shutdown stops discovery and the orchestrator and closes the stores. It is
// safe to call more than once.
func (c *Classlog) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.Config.Logger().Info("shutting down")

		if c.Discovery != nil {
			c.Discovery.Stop()
		}

		if c.Orchestrator != nil {
			c.Orchestrator.Stop()
		}

		if c.Store != nil {
			if err := c.Store.Close(); err != nil {
				c.Config.Logger().WithError(err).Error("closing store")
			}
		}

		if c.Keystore != nil {
			if err := c.Keystore.Close(); err != nil {
				c.Config.Logger().WithError(err).Error("closing keystore")
			}
		}

		close(c.shutdownCh)
	})
}
