// Package tlsutil builds the TLS credentials used to reach the notification daemon.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/endorses/notibridge/internal/pkg/logger"
	"google.golang.org/grpc/credentials"
)

// ProductionEnv, when set to "true", refuses configurations that skip verification
const ProductionEnv = "NOTIBRIDGE_PRODUCTION"

var (
	ErrSkipVerifyInProduction = errors.New("skip_verify is not allowed when " + ProductionEnv + "=true")
	ErrIncompleteKeyPair      = errors.New("both cert_file and key_file must be provided for mutual TLS")
)

// ClientConfig contains configuration for building client TLS credentials
type ClientConfig struct {
	CAFile     string // CA certificate used to verify the daemon
	CertFile   string // client certificate (mutual TLS)
	KeyFile    string // client private key (mutual TLS)
	SkipVerify bool   // skip certificate verification (testing only)
	ServerName string // override the name checked against the daemon certificate
}

// BuildClientTLSConfig turns config into a *tls.Config. Without a CA file the
// system pool is used.
func BuildClientTLSConfig(config ClientConfig) (*tls.Config, error) {
	if config.SkipVerify {
		logger.Warn("TLS certificate verification disabled",
			"security_risk", "vulnerable to man-in-the-middle attacks")
		if os.Getenv(ProductionEnv) == "true" {
			return nil, ErrSkipVerifyInProduction
		}
	}

	// #nosec G402 -- InsecureSkipVerify is user-configurable, documented as testing-only
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.SkipVerify,
		ServerName:         config.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if config.CAFile != "" {
		// #nosec G304 -- path comes from configuration
		caCert, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", config.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	switch {
	case config.CertFile != "" && config.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case config.CertFile != "" || config.KeyFile != "":
		return nil, ErrIncompleteKeyPair
	}

	logger.Debug("TLS client configuration built",
		"has_ca", config.CAFile != "",
		"has_client_cert", config.CertFile != "",
		"skip_verify", config.SkipVerify,
		"server_name", config.ServerName)

	return tlsConfig, nil
}

// BuildClientCredentials creates gRPC transport credentials from config
func BuildClientCredentials(config ClientConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := BuildClientTLSConfig(config)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}
