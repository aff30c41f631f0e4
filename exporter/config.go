package exporter

import (
	"github.com/hazyhaar/scrollback/exporter/internal/config"
	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// Config is the top-level exporter configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// SelectorProfile is one versioned selector mapping.
type SelectorProfile = selectors.Profile

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
