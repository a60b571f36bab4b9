package fullpage

import (
	"github.com/hazyhaar/pagesnap/fullpage/internal/config"
)

// Config is the top-level pagesnap configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// CaptureConfig controls segment capture and stitching.
type CaptureConfig = config.CaptureConfig

// SinkConfig defines an event output.
type SinkConfig = config.SinkConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML file; an empty path tries the XDG default location.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfigPath is the file LoadConfig reads when given no path.
func DefaultConfigPath() string { return config.DefaultPath() }
