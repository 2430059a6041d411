package tlsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildClientTLSConfig_Defaults(t *testing.T) {
	cfg, err := BuildClientTLSConfig(ClientConfig{ServerName: "daemon.local"})
	require.NoError(t, err)
	assert.Equal(t, "daemon.local", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs, "system pool is used when no CA is configured")
}

func TestBuildClientTLSConfig_SkipVerify(t *testing.T) {
	t.Setenv(ProductionEnv, "")
	cfg, err := BuildClientTLSConfig(ClientConfig{SkipVerify: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	t.Setenv(ProductionEnv, "true")
	_, err = BuildClientTLSConfig(ClientConfig{SkipVerify: true})
	assert.ErrorIs(t, err, ErrSkipVerifyInProduction)
}

func TestBuildClientTLSConfig_Errors(t *testing.T) {
	_, err := BuildClientTLSConfig(ClientConfig{CertFile: "/only/cert.pem"})
	assert.ErrorIs(t, err, ErrIncompleteKeyPair)

	_, err = BuildClientTLSConfig(ClientConfig{CAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o600))
	_, err = BuildClientTLSConfig(ClientConfig{CAFile: bogus})
	assert.ErrorContains(t, err, "failed to parse CA certificate")
}

func TestBuildClientCredentials(t *testing.T) {
	creds, err := BuildClientCredentials(ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)
}
