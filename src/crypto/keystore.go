package crypto

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
)

// Keystore db keys. Peer certificates and the device keypair are namespaced
// the same way the original secret store named its entries.
const (
	deviceIDKey      = "device_id"
	deviceCertPrefix = "device_cert_"
	deviceKeyPrefix  = "device_key_"
	peerCertPrefix   = "peer_cert_"
)

// ErrNoPeerCertificate is returned when no certificate is pinned for a peer.
var ErrNoPeerCertificate = errors.New("no pinned certificate for peer")

// CredentialStore is the interface through which the sync engine accesses
// device credentials: the local identity and the pinned peer certificates.
type CredentialStore interface {
	// DeviceID returns the stable identifier of this device.
	DeviceID() string

	// OwnCertificate returns this device's certificate and private key in
	// PEM encoding, generating and persisting them on first use.
	OwnCertificate() (certPEM string, keyPEM string, err error)

	// StorePeerCertificate pins a peer's certificate.
	StorePeerCertificate(peerID string, certPEM string) error

	// PeerCertificate returns the pinned certificate for a peer, or
	// ErrNoPeerCertificate if the peer is unknown.
	PeerCertificate(peerID string) (string, error)
}

// Keystore is a Badger-backed CredentialStore.
type Keystore struct {
	db       *badger.DB
	deviceID string
}

// NewKeystore opens the Badger database at path and loads or creates the
// device ID.
func NewKeystore(path string) (*Keystore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening keystore: %w", err)
	}

	k := &Keystore{db: db}

	deviceID, err := k.get(deviceIDKey)
	if err == badger.ErrKeyNotFound {
		deviceID = uuid.New().String()
		if err := k.set(deviceIDKey, deviceID); err != nil {
			db.Close()
			return nil, fmt.Errorf("persisting device ID: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, err
	}

	k.deviceID = deviceID

	return k, nil
}

// Close closes the underlying database.
func (k *Keystore) Close() error {
	return k.db.Close()
}

// DeviceID implements CredentialStore.
func (k *Keystore) DeviceID() string {
	return k.deviceID
}

// OwnCertificate implements CredentialStore. The certificate is generated
// lazily and kept for the lifetime of the keystore.
func (k *Keystore) OwnCertificate() (string, string, error) {
	certKey := deviceCertPrefix + k.deviceID
	keyKey := deviceKeyPrefix + k.deviceID

	certPEM, certErr := k.get(certKey)
	keyPEM, keyErr := k.get(keyKey)
	if certErr == nil && keyErr == nil {
		return certPEM, keyPEM, nil
	}
	if certErr != nil && certErr != badger.ErrKeyNotFound {
		return "", "", certErr
	}
	if keyErr != nil && keyErr != badger.ErrKeyNotFound {
		return "", "", keyErr
	}

	certPEM, keyPEM, err := GenerateCertificate(k.deviceID)
	if err != nil {
		return "", "", fmt.Errorf("generating device certificate: %w", err)
	}

	err = k.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(certKey), []byte(certPEM)); err != nil {
			return err
		}
		return txn.Set([]byte(keyKey), []byte(keyPEM))
	})
	if err != nil {
		return "", "", fmt.Errorf("persisting device certificate: %w", err)
	}

	return certPEM, keyPEM, nil
}

// StorePeerCertificate implements CredentialStore.
func (k *Keystore) StorePeerCertificate(peerID string, certPEM string) error {
	return k.set(peerCertPrefix+peerID, certPEM)
}

// PeerCertificate implements CredentialStore.
func (k *Keystore) PeerCertificate(peerID string) (string, error) {
	certPEM, err := k.get(peerCertPrefix + peerID)
	if err == badger.ErrKeyNotFound {
		return "", ErrNoPeerCertificate
	}
	return certPEM, err
}

func (k *Keystore) get(key string) (string, error) {
	var val []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return string(val), err
}

func (k *Keystore) set(key, value string) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}
