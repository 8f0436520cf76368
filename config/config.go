// Package config loads kvchaind's on-disk configuration and merges it
// with CLI flag overrides (§C11).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chainkv/store"
)

// Config is kvchaind's full runtime configuration. Zero values are not
// valid on their own; Defaults returns a usable starting point.
type Config struct {
	LogPath        string `yaml:"logPath"`
	SyncMode       string `yaml:"syncMode"`
	ListenAddr     string `yaml:"listenAddr"`
	MetricsAddr    string `yaml:"metricsAddr"`
	MaxClientBytes uint32 `yaml:"maxClientBytes"`
	LogLevel       string `yaml:"logLevel"`
	LogJSON        bool   `yaml:"logJSON"`
}

// Defaults returns the configuration kvchaind serve runs with when
// no file and no flags override it.
func Defaults() Config {
	return Config{
		LogPath:        "chainkv.log",
		SyncMode:       "sync",
		ListenAddr:     "127.0.0.1:9736",
		MetricsAddr:    "127.0.0.1:9737",
		MaxClientBytes: 64 << 20,
		LogLevel:       "info",
		LogJSON:        false,
	}
}

// Load reads a YAML file at path into a copy of base, so a missing
// field in the file falls back to whatever the caller already set
// (normally Defaults()).
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseSyncMode resolves the configured sync mode name to a store.SyncMode,
// defaulting to SyncModeSync for an empty or unrecognized value.
func (c Config) ParseSyncMode() store.SyncMode {
	switch c.SyncMode {
	case "flush":
		return store.SyncModeFlush
	case "cache":
		return store.SyncModeCached
	default:
		return store.SyncModeSync
	}
}
