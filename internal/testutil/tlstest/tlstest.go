// Package tlstest issues throwaway certificates for transport tests.
package tlstest

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
	"sync/atomic"
	"testing"
	"time"
)

// Authority is a self-signed CA living in a test temp dir.
type Authority struct {
	dir    string
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	serial atomic.Int64
}

// Pair is one issued leaf certificate on disk.
type Pair struct {
	CertFile string
	KeyFile  string
}

// NewAuthority creates a CA whose files are removed with the test.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()
	a := &Authority{dir: t.TempDir()}
	a.serial.Store(1)

	a.key = mustKey(t)
	tmpl := a.template("chatlink test ca")
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &a.key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("tlstest: create ca: %v", err)
	}
	if a.cert, err = x509.ParseCertificate(der); err != nil {
		t.Fatalf("tlstest: parse ca: %v", err)
	}
	a.write(t, "ca.crt", "CERTIFICATE", der, 0o644)
	return a
}

func (a *Authority) CAFile() string { return filepath.Join(a.dir, "ca.crt") }

// Server issues a leaf for the loopback listener, valid for localhost and 127.0.0.1.
func (a *Authority) Server(t testing.TB) Pair {
	t.Helper()
	tmpl := a.template("localhost")
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	tmpl.DNSNames = []string{"localhost"}
	tmpl.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1)}
	return a.sign(t, "server", tmpl)
}

// Client issues a leaf for mutual TLS dialers.
func (a *Authority) Client(t testing.TB, name string) Pair {
	t.Helper()
	tmpl := a.template(name)
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	return a.sign(t, "client-"+name, tmpl)
}

// Listen wraps ln with a server config for pair. When mutual is set, client
// certificates signed by a are required.
func (a *Authority) Listen(t testing.TB, ln net.Listener, pair Pair, mutual bool) net.Listener {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(pair.CertFile, pair.KeyFile)
	if err != nil {
		t.Fatalf("tlstest: load server pair: %v", err)
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if mutual {
		pool := x509.NewCertPool()
		pool.AddCert(a.cert)
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return tls.NewListener(ln, cfg)
}

func (a *Authority) template(cn string) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(a.serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"chatlink"}},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
}

func (a *Authority) sign(t testing.TB, base string, tmpl *x509.Certificate) Pair {
	t.Helper()
	key := mustKey(t)
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("tlstest: sign %s: %v", base, err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("tlstest: marshal %s key: %v", base, err)
	}
	return Pair{
		CertFile: a.write(t, base+".crt", "CERTIFICATE", der, 0o644),
		KeyFile:  a.write(t, base+".key", "EC PRIVATE KEY", keyDER, 0o600),
	}
}

func (a *Authority) write(t testing.TB, name, blockType string, der []byte, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm); err != nil {
		t.Fatalf("tlstest: write %s: %v", name, err)
	}
	return path
}

func mustKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate key: %v", err)
	}
	return key
}
