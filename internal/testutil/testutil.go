// Package testutil contains helpers shared by tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Keystore is a self-signed certificate for "localhost" and the loopback
// addresses.
type Keystore struct {
	// Cert is the parsed certificate with the key.
	Cert tls.Certificate

	// Pool contains the certificate as the only root.
	Pool *x509.CertPool

	// PEM is the certificate followed by the private key.
	PEM []byte
}

// NewKeystore generates a new self-signed keystore.
func NewKeystore(t testing.TB) (ks *Keystore) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))

	return &Keystore{
		Cert: cert,
		Pool: pool,
		PEM:  append(certPEM, keyPEM...),
	}
}

// WriteFile writes the keystore to a temporary file and returns its path.
func (ks *Keystore) WriteFile(t testing.TB) (path string) {
	t.Helper()

	path = filepath.Join(t.TempDir(), "keystore.pem")
	require.NoError(t, os.WriteFile(path, ks.PEM, 0o600))

	return path
}

// ServerConfig returns a server TLS configuration with the certificate.
func (ks *Keystore) ServerConfig() (conf *tls.Config) {
	return &tls.Config{
		Certificates: []tls.Certificate{ks.Cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientConfig returns a client TLS configuration trusting the certificate.
func (ks *Keystore) ClientConfig() (conf *tls.Config) {
	return &tls.Config{
		RootCAs:    ks.Pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
}
