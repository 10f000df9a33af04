// Package keystore loads the TLS material of a Give node.  A keystore is a
// single PEM file with the certificate chain and the private key.
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrNoCertificates is returned when a PEM file has no certificates in it.
const ErrNoCertificates errors.Error = "no certificates found"

// Load reads the certificate chain and the private key from the PEM file at
// path.
func Load(path string) (cert tls.Certificate, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cert, fmt.Errorf("keystore: reading %s: %w", path, err)
	}

	// X509KeyPair picks CERTIFICATE blocks from the first argument and the
	// first PRIVATE KEY block from the second one.
	cert, err = tls.X509KeyPair(data, data)
	if err != nil {
		return cert, fmt.Errorf("keystore: parsing %s: %w", path, err)
	}

	return cert, nil
}

// LoadPool reads the PEM file at path and returns a pool with all the
// certificates from it.
func LoadPool(path string) (pool *x509.CertPool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading %s: %w", path, err)
	}

	pool = x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("keystore: %s: %w", path, ErrNoCertificates)
	}

	return pool, nil
}
