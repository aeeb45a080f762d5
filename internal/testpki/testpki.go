// Package testpki generates a throwaway certificate authority with server and
// client certificates for tests that need mutual TLS.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// PKI holds the paths of the generated PEM files.
type PKI struct {
	Dir string

	CACert string

	ServerCert string
	ServerKey  string

	// Clients maps a client name (its Common Name) to its certificate and
	// key paths.
	Clients map[string]KeyPair
}

type KeyPair struct {
	Cert string
	Key  string
}

type issuer struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Client describes a client certificate to issue. OU is the role.
type Client struct {
	CN string
	OU string
}

// New writes a CA, a server certificate for localhost and 127.0.0.1, and one
// certificate per client to a temporary directory removed when t ends.
func New(t testing.TB, clients ...Client) *PKI {
	t.Helper()

	dir := t.TempDir()

	p := &PKI{
		Dir:     dir,
		CACert:  filepath.Join(dir, "ca.crt"),
		Clients: make(map[string]KeyPair),
	}

	ca := newCA(t)
	writePEM(t, p.CACert, "CERTIFICATE", ca.cert.Raw)

	server := ca.issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "jobserver"},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	p.ServerCert, p.ServerKey = server.write(t, dir, "server")

	for _, c := range clients {
		kp := ca.issue(t, &x509.Certificate{
			Subject: pkix.Name{
				CommonName:         c.CN,
				OrganizationalUnit: []string{c.OU},
			},
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		})

		certPath, keyPath := kp.write(t, dir, "client-"+c.CN)
		p.Clients[c.CN] = KeyPair{Cert: certPath, Key: keyPath}
	}

	return p
}

func newCA(t testing.TB) *issuer {
	t.Helper()

	key := newKey(t)

	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: "jobsearch test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	return &issuer{cert: cert, key: key}
}

func (ca *issuer) issue(t testing.TB, tmpl *x509.Certificate) *issuer {
	t.Helper()

	key := newKey(t)

	tmpl.SerialNumber = serial(t)
	tmpl.NotBefore = time.Now().Add(-time.Hour)
	tmpl.NotAfter = time.Now().Add(24 * time.Hour)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("create certificate %s: %v", tmpl.Subject.CommonName, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate %s: %v", tmpl.Subject.CommonName, err)
	}

	return &issuer{cert: cert, key: key}
}

func (kp *issuer) write(t testing.TB, dir, name string) (string, string) {
	t.Helper()

	keyDER, err := x509.MarshalPKCS8PrivateKey(kp.key)
	if err != nil {
		t.Fatalf("marshal key %s: %v", name, err)
	}

	certPath := filepath.Join(dir, name+".crt")
	keyPath := filepath.Join(dir, name+".key")

	writePEM(t, certPath, "CERTIFICATE", kp.cert.Raw)
	writePEM(t, keyPath, "PRIVATE KEY", keyDER)

	return certPath, keyPath
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()

	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	return n
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()

	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
