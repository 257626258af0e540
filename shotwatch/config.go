package shotwatch

import (
	"github.com/hazyhaar/listingwatch/shotwatch/internal/config"
)

// Config is the top-level shotwatch configuration. Re-exported from internal.
type Config = config.Config

// ProbeConfig controls the connectivity check.
type ProbeConfig = config.ProbeConfig

// CaptureConfig bounds the page render.
type CaptureConfig = config.CaptureConfig

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// TelegramConfig holds the notifier credentials.
type TelegramConfig = config.TelegramConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads the optional YAML file, the optional env file and the
// process environment, in that order of increasing precedence.
func LoadConfig(path, envFile string) (*Config, error) {
	return config.Load(path, envFile)
}
