// CLAUDE:SUMMARY Defines scrollback config structs and parses YAML configuration files with defaults.
// Package config handles exporter configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/scrollback/exporter/internal/selectors"
)

// Config is the top-level exporter configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Collect   CollectConfig   `yaml:"collect"`
	Assets    AssetsConfig    `yaml:"assets"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Output    OutputConfig    `yaml:"output"`
	Store     StoreConfig     `yaml:"store"`
	Status    StatusConfig    `yaml:"status"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	UserDataDir      string        `yaml:"user_data_dir"`
	Headless         bool          `yaml:"headless"`
	Stealth          bool          `yaml:"stealth"`
	StartURL         string        `yaml:"start_url"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Debug            bool          `yaml:"debug"` // forward page console to the log
}

// TriggerConfig controls the in-page export button.
type TriggerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DetectCycles int           `yaml:"detect_cycles"`
	Label        string        `yaml:"label"`
}

// CollectConfig controls the scroll loop.
type CollectConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ConfirmRepeats int           `yaml:"confirm_repeats"`
	MaxSteps       int           `yaml:"max_steps"`
	ScrollInput    string        `yaml:"scroll_input"` // wheel | keyboard
	WheelDelta     float64       `yaml:"wheel_delta"`

	// Channel reply threads: how long a thread view may take to open, and
	// how many scroll steps are spent looking for the next reply button.
	ThreadWait        time.Duration `yaml:"thread_wait"`
	ThreadSearchSteps int           `yaml:"thread_search_steps"`
}

// AssetsConfig controls image resolution.
type AssetsConfig struct {
	Workers int `yaml:"workers"`
}

// SelectorsConfig lists selector profiles: a directory of YAML files,
// inline profiles, or both.
type SelectorsConfig struct {
	Dir      string              `yaml:"dir"`
	Profiles []selectors.Profile `yaml:"profiles"`
}

// OutputConfig controls the archive.
type OutputConfig struct {
	Dir      string   `yaml:"dir"`
	Formats  []string `yaml:"formats"` // html | json | markdown
	Timezone string   `yaml:"timezone"`
}

// StoreConfig locates the SQLite export history. Empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig controls the read-only status API. Empty addr disables it.
// MCP also serves the status and history as MCP tools on /mcp.
type StatusConfig struct {
	Addr string `yaml:"addr"`
	MCP  bool   `yaml:"mcp"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook | notion
	URL     string `yaml:"url"`  // for webhook; API base for notion
	Retries int    `yaml:"retries"`

	// Notion: the token falls back to $NOTION_API_KEY.
	Token         string            `yaml:"token"`
	DatabaseID    string            `yaml:"database_id"`
	TitleProperty string            `yaml:"title_property"`
	DateProperty  string            `yaml:"date_property"`
	Selects       map[string]string `yaml:"selects"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Browser.UserDataDir == "" {
		c.Browser.UserDataDir = ".scrollback/profile"
	}
	if c.Browser.NavigateTimeout == 0 {
		c.Browser.NavigateTimeout = 60 * time.Second
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"fonts", "media"}
	}
	if c.Trigger.PollInterval == 0 {
		c.Trigger.PollInterval = 2 * time.Second
	}
	if c.Trigger.DetectCycles == 0 {
		c.Trigger.DetectCycles = 150
	}
	if c.Collect.SettleDelay == 0 {
		c.Collect.SettleDelay = 3 * time.Second
	}
	if c.Collect.ConfirmRepeats == 0 {
		c.Collect.ConfirmRepeats = 5
	}
	if c.Collect.ThreadWait == 0 {
		c.Collect.ThreadWait = 8 * time.Second
	}
	if c.Collect.ThreadSearchSteps == 0 {
		c.Collect.ThreadSearchSteps = 40
	}
	if c.Collect.ScrollInput == "" {
		c.Collect.ScrollInput = "wheel"
	}
	if c.Collect.WheelDelta == 0 {
		c.Collect.WheelDelta = 800
	}
	if c.Assets.Workers == 0 {
		c.Assets.Workers = 4
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "exports"
	}
	if len(c.Output.Formats) == 0 {
		c.Output.Formats = []string{"html", "json", "markdown"}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Location resolves Output.Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Output.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Output.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}

// Profiles returns inline profiles followed by those loaded from Dir.
func (c *Config) Profiles() ([]selectors.Profile, error) {
	out := append([]selectors.Profile(nil), c.Selectors.Profiles...)
	if c.Selectors.Dir != "" {
		loaded, err := selectors.LoadDir(c.Selectors.Dir)
		if err != nil {
			return nil, fmt.Errorf("config: selectors: %w", err)
		}
		out = append(out, loaded...)
	}
	return out, nil
}

// HasFormat reports whether the output format f is enabled.
func (c *Config) HasFormat(f string) bool {
	for _, x := range c.Output.Formats {
		if x == f {
			return true
		}
	}
	return false
}
