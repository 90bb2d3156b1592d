// Package config defines the configuration surface of the client: one relay
// endpoint, the local cache path, identity persistence and logging knobs.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	// LogFormatPlain defines a logging format rendered as human-readable text.
	LogFormatPlain = "plain"
	// LogFormatJSON defines a logging format rendered as structured JSON.
	LogFormatJSON = "json"
)

// DefaultDirName is the default home directory name, relative to $HOME.
const DefaultDirName = ".paleoquota"

var (
	defaultDBName       = "database.sqlite"
	defaultIdentityName = "identity.json"
)

// Config defines the top level configuration for the client.
type Config struct {
	// RootDir holds the database and identity file.
	RootDir string `mapstructure:"home"`

	// RelayURL is the single configured relay endpoint (ws:// or wss://).
	RelayURL string `mapstructure:"relay-url"`

	// PersistIdentity keeps one signing keypair across sessions in
	// IdentityFile. When false every post is authored by a fresh,
	// unlinkable keypair.
	PersistIdentity bool   `mapstructure:"persist-identity"`
	IdentityFile    string `mapstructure:"identity-file"`

	// PublishTimeout bounds the wait for the relay's acknowledgment of a
	// published event.
	PublishTimeout time.Duration `mapstructure:"publish-timeout"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// InstrumentationConfig defines the metrics surface.
type InstrumentationConfig struct {
	// Prometheus enables serving metrics on PrometheusListenAddr.
	Prometheus           bool   `mapstructure:"prometheus"`
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`
}

// DefaultConfig returns a default configuration. The relay default is a
// well-known public endpoint.
func DefaultConfig() *Config {
	return &Config{
		RootDir:         defaultRootDir(),
		RelayURL:        "wss://relay.damus.io",
		PersistIdentity: false,
		IdentityFile:    defaultIdentityName,
		PublishTimeout:  10 * time.Second,
		LogLevel:        "info",
		LogFormat:       LogFormatPlain,
		Instrumentation: &InstrumentationConfig{
			Prometheus:           false,
			PrometheusListenAddr: ":26660",
		},
	}
}

// TestConfig returns a configuration for tests: a throwaway root dir and a
// short publish timeout.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.RootDir = os.TempDir()
	cfg.PublishTimeout = time.Second
	cfg.LogLevel = "debug"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return fmt.Errorf("relay-url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay-url must be a ws:// or wss:// endpoint, got %q", cfg.RelayURL)
	}
	if cfg.PublishTimeout <= 0 {
		return fmt.Errorf("publish-timeout must be positive")
	}
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log-format %q", cfg.LogFormat)
	}
	return nil
}

// DBFile returns the full path to the sqlite post cache.
func (cfg *Config) DBFile() string {
	return rootify(defaultDBName, cfg.RootDir)
}

// IdentityPath returns the full path to the identity key file.
func (cfg *Config) IdentityPath() string {
	return rootify(cfg.IdentityFile, cfg.RootDir)
}

// EnsureRoot creates the root directory if it is missing.
func (cfg *Config) EnsureRoot() error {
	if err := os.MkdirAll(cfg.RootDir, 0700); err != nil {
		return fmt.Errorf("create root dir: %w", err)
	}
	return nil
}

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}
