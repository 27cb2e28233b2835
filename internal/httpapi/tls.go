package httpapi

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultCertValidity is the lifetime of a generated certificate.
const DefaultCertValidity = 365 * 24 * time.Hour

// CertOptions describe the self-signed certificate served by the HTTPS listener.
type CertOptions struct {
	// Hosts are the DNS names and IP addresses the certificate covers.
	// Empty means localhost and 127.0.0.1.
	Hosts    []string
	Validity time.Duration
}

func (o CertOptions) withDefaults() CertOptions {
	if len(o.Hosts) == 0 {
		o.Hosts = []string{"localhost", "127.0.0.1"}
	}
	if o.Validity <= 0 {
		o.Validity = DefaultCertValidity
	}
	return o
}

// certOptions derives the certificate from the HTTPS address when no hosts are configured.
func (c Config) certOptions() CertOptions {
	opts := CertOptions{Hosts: c.CertHosts, Validity: c.CertValidity}
	if len(opts.Hosts) == 0 {
		host, _, err := net.SplitHostPort(c.TLSAddr)
		if err == nil && host != "" && !net.ParseIP(host).IsUnspecified() {
			opts.Hosts = []string{host}
		}
	}
	return opts.withDefaults()
}

// GenerateOrLoadSelfSignedCert returns the PEM certificate and key stored in certDir.
// A new pair is issued when none is stored, the stored one has expired, or it does not
// cover every requested host.
func GenerateOrLoadSelfSignedCert(certDir string, opts CertOptions) (certPEM, keyPEM []byte, err error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPath := filepath.Join(certDir, "server.crt")
	keyPath := filepath.Join(certDir, "server.key")

	if certPEM, keyPEM, ok := loadStoredCert(certPath, keyPath, opts.Hosts, time.Now()); ok {
		return certPEM, keyPEM, nil
	}

	certPEM, keyPEM, err = issueCert(opts, time.Now())
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, nil, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, nil, fmt.Errorf("failed to write key: %w", err)
	}
	return certPEM, keyPEM, nil
}

func loadStoredCert(certPath, keyPath string, hosts []string, now time.Time) ([]byte, []byte, bool) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, false
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, false
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, false
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil || now.After(cert.NotAfter) {
		return nil, nil, false
	}
	for _, h := range hosts {
		if cert.VerifyHostname(h) != nil {
			return nil, nil, false
		}
	}
	return certPEM, keyPEM, true
}

func issueCert(opts CertOptions, now time.Time) ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.Hosts[0], Organization: []string{"AutoTunez"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range opts.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), nil
}
