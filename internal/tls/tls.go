// Package tls builds client TLS configurations for broker connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig holds TLS settings for a broker connection. TLS is in use
// whenever CAPath is set.
type ClientConfig struct {
	// CAPath is the path to the CA certificate for broker verification.
	CAPath string
	// ClientCert is the path to the client certificate file (for mTLS).
	ClientCert string
	// ClientKey is the path to the client private key file (for mTLS).
	ClientKey string
	// Insecure skips broker certificate verification.
	Insecure bool
}

// Enabled reports whether a TLS session should be established.
func (c ClientConfig) Enabled() bool { return c.CAPath != "" }

// NewClientTLSConfig creates a *tls.Config from the path-based settings, or
// nil when TLS is not enabled.
func NewClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	caCert, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CAPath)
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            caCertPool,
		InsecureSkipVerify: cfg.Insecure,
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
