package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func selfSigned(t *testing.T, cn string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	return key, der
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func pkcs8PEM(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func certPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestLoadKeyPair(t *testing.T) {
	key, der := selfSigned(t, "node-a")
	keyFile := writeFile(t, "key.pem", pkcs8PEM(t, key))
	certFile := writeFile(t, "cert.pem", certPEM(der))

	cert, err := LoadKeyPair(keyFile, certFile)
	if err != nil {
		t.Fatalf("LoadKeyPair failed: %v", err)
	}
	if cert.Leaf.Subject.CommonName != "node-a" {
		t.Errorf("unexpected leaf %s", cert.Leaf.Subject.CommonName)
	}
	if _, ok := cert.PrivateKey.(*ecdsa.PrivateKey); !ok {
		t.Errorf("expected ecdsa key, got %T", cert.PrivateKey)
	}
}

func TestReadPrivateKey_RSAPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	got, err := ReadPrivateKey(writeFile(t, "rsa.pem", string(block)))
	if err != nil {
		t.Fatalf("ReadPrivateKey failed: %v", err)
	}
	if _, ok := got.(*rsa.PrivateKey); !ok {
		t.Errorf("expected rsa key, got %T", got)
	}
}

func TestReadPrivateKey_Missing(t *testing.T) {
	_, der := selfSigned(t, "x")
	path := writeFile(t, "only-cert.pem", certPEM(der))

	_, err := ReadPrivateKey(path)
	if !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("expected ErrNoPrivateKey, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("expected error to name the file, got %v", err)
	}
}

func TestReadCertificates_MultipleInOrder(t *testing.T) {
	_, first := selfSigned(t, "first")
	_, second := selfSigned(t, "second")
	path := writeFile(t, "chain.pem", certPEM(first)+"\n"+certPEM(second))

	certs, err := ReadCertificates(path)
	if err != nil {
		t.Fatalf("ReadCertificates failed: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("expected 2 certificates, got %d", len(certs))
	}
	if certs[0].Subject.CommonName != "first" || certs[1].Subject.CommonName != "second" {
		t.Errorf("certificates out of order: %s, %s", certs[0].Subject.CommonName, certs[1].Subject.CommonName)
	}
}

func TestReadCertificates_LooseFormatting(t *testing.T) {
	_, der := selfSigned(t, "loose")
	body := base64.StdEncoding.EncodeToString(der)

	// 76 column MIME wrapping with CRLF, lower-case armour
	var wrapped strings.Builder
	for len(body) > 76 {
		wrapped.WriteString(body[:76] + "\r\n")
		body = body[76:]
	}
	wrapped.WriteString(body + "\r\n")
	content := "-----begin certificate-----\r\n" + wrapped.String() + "-----end certificate-----\r\n"

	certs, err := ReadCertificates(writeFile(t, "loose.pem", content))
	if err != nil {
		t.Fatalf("ReadCertificates failed: %v", err)
	}
	if certs[0].Subject.CommonName != "loose" {
		t.Errorf("unexpected certificate %s", certs[0].Subject.CommonName)
	}
}

func TestReadPEM_IndentedBody(t *testing.T) {
	key, der := selfSigned(t, "indented")

	// indent every body line as config templates often do
	indent := func(block string) string {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		for i := 1; i < len(lines)-1; i++ {
			lines[i] = "\t  " + lines[i]
		}
		return strings.Join(lines, "\n") + "\n"
	}
	path := writeFile(t, "indented.pem", indent(pkcs8PEM(t, key))+indent(certPEM(der)))

	if _, err := ReadPrivateKey(path); err != nil {
		t.Fatalf("ReadPrivateKey failed: %v", err)
	}
	certs, err := ReadCertificates(path)
	if err != nil {
		t.Fatalf("ReadCertificates failed: %v", err)
	}
	if certs[0].Subject.CommonName != "indented" {
		t.Errorf("unexpected certificate %s", certs[0].Subject.CommonName)
	}
}

func TestReadCertificates_Missing(t *testing.T) {
	key, _ := selfSigned(t, "x")
	path := writeFile(t, "only-key.pem", pkcs8PEM(t, key))

	if _, err := ReadCertificates(path); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("expected ErrNoCertificate, got %v", err)
	}
	if _, err := LoadTrustedCertificates(path); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("expected ErrNoCertificate from trust store, got %v", err)
	}
}

func TestServerTLSConfig(t *testing.T) {
	key, der := selfSigned(t, "server")
	cfg := Config{
		Enabled:    true,
		KeyFile:    writeFile(t, "key.pem", pkcs8PEM(t, key)),
		CertFile:   writeFile(t, "cert.pem", certPEM(der)),
		TrustFiles: []string{writeFile(t, "ca.pem", certPEM(der))},
		ClientAuth: true,
	}

	tlsCfg, err := ServerTLSConfig(cfg)
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}
	if len(tlsCfg.Certificates) != 1 || tlsCfg.ClientCAs == nil {
		t.Error("expected certificate and client CA pool")
	}

	disabled, err := ServerTLSConfig(Config{})
	if err != nil || disabled != nil {
		t.Errorf("expected nil config when disabled, got %v, %v", disabled, err)
	}
}
