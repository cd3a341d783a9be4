// Package pairing implements the trust-establishment flows between classlog
// devices.
//
// Pairing hands a device's certificate to another device over a human
// channel rather than the network: either a short-lived 6-digit PIN that
// dereferences to a full payload held by the issuing device, or a long-lived
// base64 pairing code meant for QR display or manual transfer. Processing a
// pairing input pins the embedded certificate, which is what later allows a
// mutually-authenticated sync session with that peer.
package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/peers"
)

// PinTTL is how long a generated PIN remains redeemable.
const PinTTL = 10 * time.Minute

// Payload is the pairing payload exchanged between devices, transported as
// base64 of its JSON encoding.
type Payload struct {
	DeviceID    string `json:"device_id"`
	Certificate string `json:"certificate"`
	Timestamp   int64  `json:"timestamp"`
}

// ActivePin describes a live PIN for UI display.
type ActivePin struct {
	Pin              string    `json:"pin"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

type pinData struct {
	payload   string
	deviceID  string
	expiresAt time.Time
}

// Coordinator issues pairing PINs and codes, and turns pairing inputs into
// trusted peer records. The PIN cache is constructor-injected state guarded
// by a short-lived mutex; instances never share it.
type Coordinator struct {
	creds  crypto.CredentialStore
	peers  *peers.PeerSet
	clock  clockwork.Clock
	logger *logrus.Entry

	pinLock sync.Mutex
	pins    map[string]pinData
}

// NewCoordinator instantiates a Coordinator with an empty PIN cache.
func NewCoordinator(
	creds crypto.CredentialStore,
	peerSet *peers.PeerSet,
	clock clockwork.Clock,
	logger *logrus.Entry,
) *Coordinator {
	return &Coordinator{
		creds:  creds,
		peers:  peerSet,
		clock:  clock,
		logger: logger,
		pins:   make(map[string]pinData),
	}
}

// GeneratePin produces a fresh 6-digit PIN mapping to a pairing payload,
// valid for PinTTL. Already-expired entries are evicted from the cache
// before inserting. Repeated calls may leave several concurrently valid
// PINs in the cache.
func (c *Coordinator) GeneratePin() (ActivePin, error) {
	pin, err := randomPin()
	if err != nil {
		return ActivePin{}, err
	}

	payload, err := c.GeneratePairingCode()
	if err != nil {
		return ActivePin{}, err
	}

	now := c.clock.Now()
	expiresAt := now.Add(PinTTL)

	c.pinLock.Lock()
	c.evictExpired(now)
	c.pins[pin] = pinData{
		payload:   payload,
		deviceID:  c.creds.DeviceID(),
		expiresAt: expiresAt,
	}
	c.pinLock.Unlock()

	c.logger.WithFields(logrus.Fields{
		"pin":        pin,
		"expires_at": expiresAt,
	}).Info("generated pairing PIN")

	return ActivePin{
		Pin:              pin,
		ExpiresAt:        expiresAt,
		ExpiresInSeconds: int64(PinTTL / time.Second),
	}, nil
}

// CurrentPin returns the live PIN with the earliest expiry, or false if none
// is valid. Expiry is checked lazily against the wall clock.
func (c *Coordinator) CurrentPin() (ActivePin, bool) {
	c.pinLock.Lock()
	defer c.pinLock.Unlock()

	now := c.clock.Now()

	var current ActivePin
	found := false
	for pin, data := range c.pins {
		if !data.expiresAt.After(now) {
			continue
		}
		if !found || data.expiresAt.Before(current.ExpiresAt) {
			current = ActivePin{
				Pin:              pin,
				ExpiresAt:        data.expiresAt,
				ExpiresInSeconds: int64(data.expiresAt.Sub(now) / time.Second),
			}
			found = true
		}
	}

	return current, found
}

// ClearPins wipes the PIN cache unconditionally.
func (c *Coordinator) ClearPins() {
	c.pinLock.Lock()
	c.pins = make(map[string]pinData)
	c.pinLock.Unlock()

	c.logger.Info("cleared all pairing PINs")
}

// GeneratePairingCode returns the base64 pairing payload for this device.
// It has no expiry and is intended for QR or manual out-of-band transfer.
func (c *Coordinator) GeneratePairingCode() (string, error) {
	certPEM, _, err := c.creds.OwnCertificate()
	if err != nil {
		return "", err
	}

	payload := Payload{
		DeviceID:    c.creds.DeviceID(),
		Certificate: certPEM,
		Timestamp:   c.clock.Now().Unix(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// ProcessPairingInput accepts either a 6-digit PIN, resolved through the
// local cache, or a raw base64 pairing code. On success the peer's
// certificate is pinned and the peer is registered as Paired at the
// observed address. A redeemed PIN is consumed atomically with the lookup;
// it is never accepted twice.
func (c *Coordinator) ProcessPairingInput(input string, observedAddr string) (string, error) {
	code := input

	if isPin(input) {
		c.pinLock.Lock()
		data, ok := c.pins[input]
		if !ok || !data.expiresAt.After(c.clock.Now()) {
			c.pinLock.Unlock()
			return "", NewError(InvalidOrExpiredPin, "")
		}
		delete(c.pins, input)
		c.pinLock.Unlock()

		code = data.payload
		c.logger.WithField("pin", input).Info("redeemed pairing PIN")
	}

	payload, err := decodePayload(code)
	if err != nil {
		return "", err
	}

	if err := c.creds.StorePeerCertificate(payload.DeviceID, payload.Certificate); err != nil {
		return "", err
	}

	peer := peers.NewPeer(payload.DeviceID, observedAddr)
	peer.Certificate = payload.Certificate
	c.peers.UpsertPaired(peer)

	c.logger.WithFields(logrus.Fields{
		"peer":    payload.DeviceID,
		"address": observedAddr,
	}).Info("paired with device")

	return payload.DeviceID, nil
}

// evictExpired removes dead entries. Caller holds pinLock.
func (c *Coordinator) evictExpired(now time.Time) {
	for pin, data := range c.pins {
		if !data.expiresAt.After(now) {
			delete(c.pins, pin)
		}
	}
}

func decodePayload(code string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return Payload{}, NewError(MalformedPayload, "not base64")
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, NewError(MalformedPayload, "not JSON")
	}

	if payload.DeviceID == "" || payload.Certificate == "" {
		return Payload{}, NewError(MalformedPayload, "missing device_id or certificate")
	}

	return payload, nil
}

func isPin(input string) bool {
	if len(input) != 6 {
		return false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
