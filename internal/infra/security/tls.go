package security

import (
	"crypto/tls"
	"fmt"
)

// Config points at key material. Either KeyFile/CertFile (PEM) or
// KeyStore (PKCS#12) is used.
type Config struct {
	Enabled          bool     `yaml:"enabled"`
	KeyFile          string   `yaml:"key_file"`
	CertFile         string   `yaml:"cert_file"`
	KeyStore         string   `yaml:"key_store"`
	KeyStorePassword string   `yaml:"key_store_password"`
	TrustFiles       []string `yaml:"trust_files"`
	ClientAuth       bool     `yaml:"client_auth"` // require peer certificates
}

func (c Config) certificate() (tls.Certificate, error) {
	if c.KeyStore != "" {
		return LoadKeyStore(c.KeyStore, c.KeyStorePassword)
	}
	return LoadKeyPair(c.KeyFile, c.CertFile)
}

// ServerTLSConfig returns nil when TLS is disabled.
func ServerTLSConfig(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cert, err := c.certificate()
	if err != nil {
		return nil, fmt.Errorf("failed to load server key material: %w", err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if len(c.TrustFiles) > 0 {
		pool, err := LoadTrustedCertificates(c.TrustFiles...)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust material: %w", err)
		}
		out.ClientCAs = pool
	}
	if c.ClientAuth {
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

// ClientTLSConfig returns nil when TLS is disabled. The client certificate
// is only loaded when key material is configured.
func ClientTLSConfig(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.KeyStore != "" || c.KeyFile != "" {
		cert, err := c.certificate()
		if err != nil {
			return nil, fmt.Errorf("failed to load client key material: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	if len(c.TrustFiles) > 0 {
		pool, err := LoadTrustedCertificates(c.TrustFiles...)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust material: %w", err)
		}
		out.RootCAs = pool
	}
	return out, nil
}
