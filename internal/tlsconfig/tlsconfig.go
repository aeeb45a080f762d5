// Package tlsconfig builds mutual TLS configurations for the gRPC server and
// its clients.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config locates the certificates for one side of a connection.
type Config struct {
	CertPath   string
	KeyPath    string
	CACertPath string

	// ServerName is verified against the server certificate. Clients only.
	ServerName string

	Server bool
}

// SetupTLS loads the certificates in config. Servers require and verify a
// client certificate signed by the CA; clients verify the server against it.
// Only TLS 1.3 is accepted.
func SetupTLS(config *Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	caCert, err := os.ReadFile(config.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}

	if config.Server {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = caCertPool
	} else {
		tlsConfig.RootCAs = caCertPool
		tlsConfig.ServerName = config.ServerName
	}

	return tlsConfig, nil
}
