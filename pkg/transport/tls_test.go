package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate for 127.0.0.1.
func generateTestCertificate(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "middleware.local",
		},
		DNSNames:              []string{"middleware.local"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, cert
}

func TestNewClientTLSConfig(t *testing.T) {
	pool := x509.NewCertPool()
	tlsConfig := NewClientTLSConfig(TLSConfig{RootCAs: pool, ServerName: "middleware.local"})

	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", tlsConfig.MinVersion)
	}
	if tlsConfig.RootCAs != pool {
		t.Error("RootCAs not carried over")
	}
	if tlsConfig.ServerName != "middleware.local" {
		t.Errorf("ServerName = %q", tlsConfig.ServerName)
	}
	if tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
}

func TestClientTrustsConfiguredRoot(t *testing.T) {
	cert, leaf := generateTestCertificate(t)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	client := NewRequestClient(Config{TLS: TLSConfig{RootCAs: pool}})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request with trusted root failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if _, err := NewRequestClient(Config{}).Get(srv.URL); err == nil {
		t.Error("system pool must not trust the test certificate")
	}
}

func TestClientRejectsOldTLS(t *testing.T) {
	cert, leaf := generateTestCertificate(t)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS11,
	}
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	if _, err := NewRequestClient(Config{TLS: TLSConfig{RootCAs: pool}}).Get(srv.URL); err == nil {
		t.Error("handshake below TLS 1.2 should fail")
	}
}
