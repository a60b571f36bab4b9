// CLAUDE:SUMMARY pagesnap YAML configuration with XDG default locations, defaults, and validation.
// Package config loads the pagesnap configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// AppName names the XDG directories.
const AppName = "pagesnap"

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Sticky  StickyConfig  `yaml:"sticky"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Output  OutputConfig  `yaml:"output"`
	Tabs    TabsConfig    `yaml:"tabs"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Driver            string        `yaml:"driver"` // rod | chromedp
	Remote            string        `yaml:"remote"`
	MemoryLimit       int64         `yaml:"memory_limit"`
	RecycleInterval   time.Duration `yaml:"recycle_interval"`
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	Stealth           string        `yaml:"stealth"` // plain | headless | headful
	XvfbDisplay       string        `yaml:"xvfb_display"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	NavigateTimeout   time.Duration `yaml:"navigate_timeout"`
}

// CaptureConfig controls segment capture and stitching.
type CaptureConfig struct {
	Format       string        `yaml:"format"` // png | jpeg | webp
	Quality      float64       `yaml:"quality"`
	Settle       time.Duration `yaml:"settle"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxPerSecond emulates a capture quota. 0 disables it.
	MaxPerSecond float64 `yaml:"max_per_second"`
	// Overlap fixes the step to viewport minus Overlap. 0 keeps the
	// height-dependent default.
	Overlap         int  `yaml:"overlap"`
	MaxDimension    int  `yaml:"max_dimension"`
	DisableRecovery bool `yaml:"disable_recovery"`
	Workers         int  `yaml:"workers"`
}

// StickyConfig controls fixed/sticky element handling.
type StickyConfig struct {
	Disable              bool `yaml:"disable"`
	NoStylesheetFallback bool `yaml:"no_stylesheet_fallback"`
	SkipAudit            bool `yaml:"skip_audit"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the viewer HTTP server.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	MaxBody int64  `yaml:"max_body"`
	// AllowPrivateTargets lets remote callers capture loopback and
	// private-network URLs.
	AllowPrivateTargets bool `yaml:"allow_private_targets"`
}

// OutputConfig controls files written by the CLI.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Basename string `yaml:"basename"`
}

// TabsConfig controls tab lifetime.
type TabsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// MetricsConfig controls capture metrics.
type MetricsConfig struct {
	Disabled      bool          `yaml:"disabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"`
}

// SinkConfig defines an event output.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`
}

// ConfigDir is $XDG_CONFIG_HOME/pagesnap.
func ConfigDir() string { return filepath.Join(xdg.ConfigHome, AppName) }

// DataDir is $XDG_DATA_HOME/pagesnap.
func DataDir() string { return filepath.Join(xdg.DataHome, AppName) }

// DefaultPath is the config file read when no path is given.
func DefaultPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path, or DefaultPath when path is empty. A missing default
// file yields Default(); a missing explicit file is an error.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cfg, err := LoadFile(DefaultPath())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) applyDefaults() {
	b := &c.Browser
	if b.Driver == "" {
		b.Driver = "rod"
	}
	if b.MemoryLimit <= 0 {
		b.MemoryLimit = 1 << 30
	}
	if b.RecycleInterval <= 0 {
		b.RecycleInterval = 4 * time.Hour
	}
	if b.Stealth == "" {
		b.Stealth = "headless"
	}
	if b.XvfbDisplay == "" {
		b.XvfbDisplay = ":99"
	}
	if b.ViewportWidth <= 0 {
		b.ViewportWidth = 1280
	}
	if b.ViewportHeight <= 0 {
		b.ViewportHeight = 800
	}
	if b.DeviceScaleFactor <= 0 {
		b.DeviceScaleFactor = 1
	}
	if b.NavigateTimeout <= 0 {
		b.NavigateTimeout = 30 * time.Second
	}

	cp := &c.Capture
	if cp.Format == "" {
		cp.Format = string(shot.FormatPNG)
	}
	if cp.Settle <= 0 {
		cp.Settle = 400 * time.Millisecond
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = 3
	}
	if cp.InitialDelay <= 0 {
		cp.InitialDelay = time.Second
	}
	if cp.MaxDimension <= 0 {
		cp.MaxDimension = 32767
	}
	if cp.Workers <= 0 {
		cp.Workers = 4
	}

	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(DataDir(), "pagesnap.db")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8088"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 64 << 20
	}
	if c.Output.Dir == "" {
		c.Output.Dir = filepath.Join(xdg.UserDirs.Pictures, AppName)
	}
	if c.Output.Basename == "" {
		c.Output.Basename = "full_page_screenshot"
	}
	if c.Tabs.IdleTimeout <= 0 {
		c.Tabs.IdleTimeout = 5 * time.Minute
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 5 * time.Second
	}
	if c.Metrics.Retention <= 0 {
		c.Metrics.Retention = 30 * 24 * time.Hour
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("config: browser.driver %q: want rod or chromedp", c.Browser.Driver)
	}
	switch c.Browser.Stealth {
	case "plain", "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want plain, headless or headful", c.Browser.Stealth)
	}
	if _, err := shot.ParseFormat(c.Capture.Format); err != nil {
		return fmt.Errorf("config: capture.format: %w", err)
	}
	if c.Capture.Quality < 0 || c.Capture.Quality > 100 {
		return fmt.Errorf("config: capture.quality %v: want 0..100", c.Capture.Quality)
	}
	if c.Capture.MaxPerSecond < 0 {
		return fmt.Errorf("config: capture.max_per_second must not be negative")
	}
	if c.Capture.Overlap < 0 || c.Capture.Overlap >= c.Browser.ViewportHeight {
		return fmt.Errorf("config: capture.overlap %d: want 0..%d", c.Capture.Overlap, c.Browser.ViewportHeight-1)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
