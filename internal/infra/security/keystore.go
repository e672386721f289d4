package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadKeyPair builds a TLS certificate from a PEM key file and a PEM
// certificate chain.
func LoadKeyPair(keyFile, certFile string) (tls.Certificate, error) {
	key, err := ReadPrivateKey(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	certs, err := ReadCertificates(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	out := tls.Certificate{PrivateKey: key, Leaf: certs[0]}
	for _, c := range certs {
		out.Certificate = append(out.Certificate, c.Raw)
	}
	return out, nil
}

// LoadTrustedCertificates collects the certificates of every file into a pool.
func LoadTrustedCertificates(files ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, f := range files {
		certs, err := ReadCertificates(f)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	}
	return pool, nil
}

// LoadKeyStore reads a PKCS#12 store holding one key and its certificate.
func LoadKeyStore(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read key store: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode key store %s: %w", path, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
