// Package config loads bridge settings with viper and keeps the live
// filter set in sync with the configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/filtering"
	"github.com/endorses/notibridge/internal/pkg/tlsutil"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. NOTIBRIDGE_DAEMON_ADDRESS
const EnvPrefix = "NOTIBRIDGE"

// Configuration keys
const (
	KeyDaemonAddress       = "daemon.address"
	KeyTLSEnabled          = "daemon.tls.enabled"
	KeyTLSCAFile           = "daemon.tls.ca_file"
	KeyTLSCertFile         = "daemon.tls.cert_file"
	KeyTLSKeyFile          = "daemon.tls.key_file"
	KeyTLSSkipVerify       = "daemon.tls.skip_verify"
	KeyTLSServerName       = "daemon.tls.server_name"
	KeyBackoffBase         = "daemon.backoff.base"
	KeyBackoffMax          = "daemon.backoff.max"
	KeyConnectTimeout      = "daemon.connect_timeout"
	KeySocketPath          = "socket.path"
	KeyMetricsAddr         = "metrics.addr"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
	KeyProtocol            = "protocol"
	KeyIgnoreCurrentBuffer = "ignore_current_buffer"
	filterKeyPrefix        = "filters."
)

// FilterKey returns the configuration key of a filter kind
func FilterKey(k filtering.Kind) string {
	return filterKeyPrefix + string(k)
}

// Settings is the static part of the configuration, read once at startup
type Settings struct {
	DaemonAddress  string
	TLSEnabled     bool
	TLS            tlsutil.ClientConfig
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ConnectTimeout time.Duration
	SocketPath     string
	MetricsAddr    string
	LogLevel       string
	LogFormat      string
	Protocol       string
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDaemonAddress, constants.DefaultDaemonAddress)
	v.SetDefault(KeyTLSEnabled, false)
	v.SetDefault(KeyBackoffBase, constants.ReconnectBaseDelay)
	v.SetDefault(KeyBackoffMax, constants.ReconnectMaxDelay)
	v.SetDefault(KeyConnectTimeout, constants.ConnectTimeout)
	v.SetDefault(KeySocketPath, DefaultSocketPath())
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyProtocol, "irc")
	v.SetDefault(KeyIgnoreCurrentBuffer, false)
	for _, k := range filtering.Kinds {
		v.SetDefault(FilterKey(k), "")
	}
}

// DefaultSocketPath returns the host socket path under XDG_RUNTIME_DIR, or
// the temp directory when that is unset
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, constants.DefaultSocketName)
}

// DefaultConfigFile returns $HOME/.config/notibridge/config.yaml
func DefaultConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "notibridge", "config.yaml"), nil
}

// NewViper returns a viper instance with defaults and environment overrides.
// When file is empty the default config file is used if it exists; an
// explicitly named file must exist.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		def, err := DefaultConfigFile()
		if err != nil {
			return v, nil
		}
		if _, err := os.Stat(def); err != nil {
			return v, nil
		}
		file = def
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", file, err)
	}
	return v, nil
}

// LoadSettings reads the static settings from v
func LoadSettings(v *viper.Viper) Settings {
	return Settings{
		DaemonAddress: v.GetString(KeyDaemonAddress),
		TLSEnabled:    v.GetBool(KeyTLSEnabled),
		TLS: tlsutil.ClientConfig{
			CAFile:     v.GetString(KeyTLSCAFile),
			CertFile:   v.GetString(KeyTLSCertFile),
			KeyFile:    v.GetString(KeyTLSKeyFile),
			SkipVerify: v.GetBool(KeyTLSSkipVerify),
			ServerName: v.GetString(KeyTLSServerName),
		},
		BackoffBase:    v.GetDuration(KeyBackoffBase),
		BackoffMax:     v.GetDuration(KeyBackoffMax),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		SocketPath:     v.GetString(KeySocketPath),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		Protocol:       v.GetString(KeyProtocol),
	}
}

// filterSpecs collects the filter specification of every kind from v
func filterSpecs(v *viper.Viper) map[filtering.Kind]string {
	specs := make(map[filtering.Kind]string, len(filtering.Kinds))
	for _, k := range filtering.Kinds {
		specs[k] = v.GetString(FilterKey(k))
	}
	return specs
}
