// Package certs generates and loads the TLS material for the chat listener.
package certs

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
	"time"

	"github.com/pkg/errors"
)

// Options describe a self-signed certificate.
type Options struct {
	// Hosts lists DNS names and IP addresses the certificate is valid for.
	Hosts    []string
	ValidFor time.Duration
}

// DefaultOptions is a one-year localhost certificate.
func DefaultOptions() Options {
	return Options{
		Hosts:    []string{"localhost", "127.0.0.1", "::1"},
		ValidFor: 365 * 24 * time.Hour,
	}
}

// GenerateSelfSigned returns PEM-encoded certificate and private key.
func GenerateSelfSigned(opts Options) (certPEM, keyPEM []byte, err error) {
	if len(opts.Hosts) == 0 {
		opts.Hosts = DefaultOptions().Hosts
	}
	if opts.ValidFor <= 0 {
		opts.ValidFor = DefaultOptions().ValidFor
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate key failed")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate serial failed")
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.Hosts[0], Organization: []string{"cipherchat"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
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
		return nil, nil, errors.Wrap(err, "create certificate failed")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal key failed")
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// WriteSelfSigned generates a certificate and writes it to certPath and
// keyPath, creating parent directories. The key file is private to the
// owner.
func WriteSelfSigned(certPath, keyPath string, opts Options) error {
	certPEM, keyPEM, err := GenerateSelfSigned(opts)
	if err != nil {
		return err
	}
	for _, p := range []string{certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return errors.Wrap(err, "create certificate directory failed")
		}
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return errors.Wrap(err, "write certificate failed")
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return errors.Wrap(err, "write key failed")
	}
	return nil
}

// ServerTLS loads a certificate/key pair into a server TLS configuration.
func ServerTLS(certPath, keyPath string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "load key pair failed")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLS trusts the PEM certificate at caPath, typically the server's
// self-signed certificate. An empty caPath uses the system roots.
func ClientTLS(caPath, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if caPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(caPath)
	if err != nil {
		return nil, errors.Wrap(err, "read CA certificate failed")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.Errorf("no certificates found in %s", caPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
