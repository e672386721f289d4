// Package security loads TLS key and trust material.
package security

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	ErrNoPrivateKey  = errors.New("no private key in file")
	ErrNoCertificate = errors.New("no certificate found in file")
)

var (
	keyPattern = regexp.MustCompile(`(?i)-+BEGIN\s+.*PRIVATE\s+KEY[^-]*-+(?:\s|\r|\n)+` +
		`([a-z0-9+/=\s]+)` +
		`-+END\s+.*PRIVATE\s+KEY[^-]*-+`)
	certPattern = regexp.MustCompile(`(?i)-+BEGIN\s+.*CERTIFICATE[^-]*-+(?:\s|\r|\n)+` +
		`([a-z0-9+/=\s]+)` +
		`-+END\s+.*CERTIFICATE[^-]*-+`)
)

// decodeMIME decodes a base64 body that may be wrapped over several lines.
func decodeMIME(body string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, body)
	return base64.StdEncoding.DecodeString(cleaned)
}

// ReadPrivateKey returns the first private key block in path. PKCS#8,
// PKCS#1 and SEC 1 encodings are accepted.
func ReadPrivateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	m := keyPattern.FindSubmatch(data)
	if m == nil {
		return nil, fmt.Errorf("%w %s", ErrNoPrivateKey, path)
	}
	der, err := decodeMIME(string(m[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key in %s: %w", path, err)
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key encoding in %s", path)
}

// ReadCertificates returns every certificate block in path, in file order.
func ReadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	var certs []*x509.Certificate
	for _, m := range certPattern.FindAllSubmatch(data, -1) {
		der, err := decodeMIME(string(m[1]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate in %s: %w", path, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate in %s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoCertificate, path)
	}
	return certs, nil
}
