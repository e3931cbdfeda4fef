// Package pintls builds TLS configs where the client trusts exactly one
// Ed25519 server key instead of a certificate chain. The server key is the
// daemon's password-derived signing key, so the pin survives restarts.
package pintls

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/shary-app/sharycore/internal/keyfmt"
)

// NewServerCert creates a self-signed certificate for priv.
func NewServerCert(priv ed25519.PrivateKey) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// ServerConfig returns a TLS 1.3 server config presenting priv.
func ServerConfig(priv ed25519.PrivateKey) (*tls.Config, error) {
	cert, err := NewServerCert(priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:     []tls.Certificate{cert},
		MinVersion:       tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{tls.X25519MLKEM768, tls.X25519},
	}, nil
}

// ClientConfig returns a TLS 1.3 client config accepting only a server
// certificate for serverPub.
func ClientConfig(serverPub ed25519.PublicKey) (*tls.Config, error) {
	if len(serverPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("server key: got %d bytes, want %d", len(serverPub), ed25519.PublicKeySize)
	}
	pin := bytes.Clone(serverPub)
	return &tls.Config{
		MinVersion:       tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{tls.X25519MLKEM768, tls.X25519},
		// The chain is not verified; the key pin below replaces it.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("no server certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			pk, ok := cert.PublicKey.(ed25519.PublicKey)
			if !ok {
				return errors.New("server certificate is not ed25519")
			}
			if !bytes.Equal(pk, pin) {
				return errors.New("server public key mismatch")
			}
			return nil
		},
	}, nil
}

// WritePin stores pub as a one-line base64url file clients can read.
func WritePin(path string, pub ed25519.PublicKey) error {
	return os.WriteFile(path, []byte(keyfmt.Encode(pub)+"\n"), 0o644)
}

// ParsePin accepts a base64url key or the path of a file written by
// WritePin.
func ParsePin(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if data, err := os.ReadFile(s); err == nil {
		s = strings.TrimSpace(string(data))
	}
	raw, err := keyfmt.Decode(s, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	return ed25519.PublicKey(raw), nil
}
