package httpapi

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func parseCert(t *testing.T, certPEM []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func TestGenerateOrLoadSelfSignedCert(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	certPEM, keyPEM, err := GenerateOrLoadSelfSignedCert(dir, CertOptions{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		t.Fatalf("generated pair is invalid: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "server.key")); err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("key file: %v %v", info, err)
	}
	cert := parseCert(t, certPEM)
	if cert.VerifyHostname("localhost") != nil || cert.VerifyHostname("127.0.0.1") != nil {
		t.Fatalf("default certificate must cover localhost, got %v %v", cert.DNSNames, cert.IPAddresses)
	}

	again, _, err := GenerateOrLoadSelfSignedCert(dir, CertOptions{})
	if err != nil || !bytes.Equal(again, certPEM) {
		t.Fatalf("expected stored certificate to be reused, err=%v", err)
	}
}

func TestCertCoversConfiguredHosts(t *testing.T) {
	dir := t.TempDir()
	opts := CertOptions{Hosts: []string{"music.local", "10.0.0.5"}, Validity: 48 * time.Hour}

	certPEM, _, err := GenerateOrLoadSelfSignedCert(dir, opts)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	cert := parseCert(t, certPEM)
	if cert.Subject.CommonName != "music.local" {
		t.Fatalf("CommonName = %q", cert.Subject.CommonName)
	}
	if cert.VerifyHostname("music.local") != nil || cert.VerifyHostname("10.0.0.5") != nil {
		t.Fatalf("hosts not covered: %v %v", cert.DNSNames, cert.IPAddresses)
	}
	if life := cert.NotAfter.Sub(cert.NotBefore); life > 49*time.Hour || life < 47*time.Hour {
		t.Fatalf("validity = %v", life)
	}

	reissued, _, err := GenerateOrLoadSelfSignedCert(dir, CertOptions{Hosts: []string{"other.local"}})
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if bytes.Equal(reissued, certPEM) || parseCert(t, reissued).VerifyHostname("other.local") != nil {
		t.Fatal("certificate must be reissued when hosts change")
	}
}

func TestStoredCertExpires(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := GenerateOrLoadSelfSignedCert(dir, CertOptions{Validity: time.Hour}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	certPath, keyPath := filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")

	if _, _, ok := loadStoredCert(certPath, keyPath, []string{"localhost"}, time.Now()); !ok {
		t.Fatal("fresh certificate must load")
	}
	if _, _, ok := loadStoredCert(certPath, keyPath, []string{"localhost"}, time.Now().Add(2*time.Hour)); ok {
		t.Fatal("expired certificate must not be loaded")
	}
}

func TestConfigCertOptions(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{}, "localhost"},
		{Config{TLSAddr: "0.0.0.0:3331"}, "localhost"},
		{Config{TLSAddr: "192.168.1.20:3331"}, "192.168.1.20"},
		{Config{TLSAddr: "192.168.1.20:3331", CertHosts: []string{"box.lan"}}, "box.lan"},
	}
	for _, tc := range cases {
		opts := tc.cfg.certOptions()
		if opts.Hosts[0] != tc.want || opts.Validity != DefaultCertValidity {
			t.Fatalf("certOptions(%+v) = %+v, want first host %q", tc.cfg, opts, tc.want)
		}
	}
}
