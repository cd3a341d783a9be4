package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	certificatePEMType = "CERTIFICATE"
	privateKeyPEMType  = "EC PRIVATE KEY"

	// certValidity is deliberately long; there is no rotation mechanism, so
	// an expiring certificate would strand the device's pairings.
	certValidity = 20 * 365 * 24 * time.Hour
)

// GenerateCertificate creates a self-signed ECDSA P-256 certificate whose
// Common Name and DNS SAN both carry the device ID. It returns the
// certificate and private key in PEM encoding.
func GenerateCertificate(deviceID string) (certPEM string, keyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: deviceID,
		},
		DNSNames:              []string{deviceID, "localhost"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", err
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: keyDER}))

	return certPEM, keyPEM, nil
}

// ParseCertificatePEM decodes a single PEM-encoded x509 certificate.
func ParseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != certificatePEMType {
		return nil, errors.New("no certificate PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// DeviceIDFromCert extracts the device ID from a peer certificate. The
// Common Name takes precedence; a DNS entry in the Subject Alternative Name
// is the fallback.
func DeviceIDFromCert(cert *x509.Certificate) (string, error) {
	if cn := cert.Subject.CommonName; cn != "" {
		return cn, nil
	}

	for _, name := range cert.DNSNames {
		if name != "" && name != "localhost" {
			return name, nil
		}
	}

	return "", fmt.Errorf("certificate carries no device ID")
}

// DeviceIDFromRawCert parses a DER certificate and extracts the device ID.
func DeviceIDFromRawCert(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", err
	}
	return DeviceIDFromCert(cert)
}
