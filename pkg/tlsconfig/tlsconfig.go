// Package tlsconfig builds the client TLS settings shared by the HTTP
// client and the WebSocket dialer.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Options names the PEM files used to reach a backend behind a private CA
type Options struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Empty reports whether no option is set
func (o Options) Empty() bool {
	return o.CAFile == "" && o.CertFile == "" && o.KeyFile == "" && !o.InsecureSkipVerify
}

// LoadClientTLSConfig loads TLS configuration for client connections.
// It returns nil when o is empty so callers keep Go's defaults.
func LoadClientTLSConfig(o Options) (*tls.Config, error) {
	if o.Empty() {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}

	// Client certificate for mTLS
	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" || o.KeyFile == "" {
			return nil, fmt.Errorf("both tls.cert_file and tls.key_file are required for a client certificate")
		}
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// CA certificate to verify the server
	if o.CAFile != "" {
		caCert, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", o.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
