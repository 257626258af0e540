// Package config handles shotwatch configuration: an optional YAML file,
// then environment overrides (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// DefaultURL is the Binance "new cryptocurrency listing" announcements page.
const DefaultURL = "https://www.binance.com/en/support/announcement/new-cryptocurrency-listing?c=48&navId=48"

// DefaultCaption accompanies the changed screenshot.
const DefaultCaption = "🔔 Change detected on Binance listings page! Check the page for updates."

// Config is the top-level shotwatch configuration.
type Config struct {
	URL           string `yaml:"url"`
	ScreenshotDir string `yaml:"screenshot_dir"`
	FullPagePath  string `yaml:"full_page_path"`
	Keep          int    `yaml:"keep"`
	Caption       string `yaml:"caption"`

	Interval   time.Duration `yaml:"interval"`
	Tick       time.Duration `yaml:"tick"`
	RunOnStart bool          `yaml:"run_on_start"`

	Probe    ProbeConfig    `yaml:"probe"`
	Capture  CaptureConfig  `yaml:"capture"`
	Browser  BrowserConfig  `yaml:"browser"`
	Telegram TelegramConfig `yaml:"telegram"`

	StatusAddr      string        `yaml:"status_addr"`
	EventsDB        string        `yaml:"events_db"`
	EventsRetention time.Duration `yaml:"events_retention"`
}

// ProbeConfig controls the connectivity check.
type ProbeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig bounds the page render.
type CaptureConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Settle       time.Duration `yaml:"settle"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	NoSandbox        bool          `yaml:"no_sandbox"`
	Stealth          string        `yaml:"stealth"` // stealth | plain
	ResourceBlocking []string      `yaml:"resource_blocking"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// TelegramConfig holds the notifier credentials. Credentials are usually
// supplied through TELEGRAM_TOKEN and CHAT_ID rather than the file.
type TelegramConfig struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Load builds the runtime configuration: the YAML file at path (defaults
// only when path is empty), then variables from envFile if it exists, then
// the process environment. Variables already set in the environment win
// over the env file.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables recognised by ApplyEnv.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvChatID        = "CHAT_ID"
	EnvURL           = "SHOTWATCH_URL"
	EnvDir           = "SHOTWATCH_DIR"
	EnvStatusAddr    = "SHOTWATCH_STATUS_ADDR"
	EnvEventsDB      = "SHOTWATCH_EVENTS_DB"
)

// ApplyEnv overrides fields from the environment. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvTelegramToken, &c.Telegram.BotToken)
	set(EnvChatID, &c.Telegram.ChatID)
	set(EnvURL, &c.URL)
	set(EnvDir, &c.ScreenshotDir)
	set(EnvStatusAddr, &c.StatusAddr)
	set(EnvEventsDB, &c.EventsDB)
}

// Validate rejects configurations the monitor cannot run with. Telegram
// credentials are deliberately not checked here; a missing token surfaces
// on the first notification.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid url %q", c.URL)
	}
	if c.Keep < 2 {
		return fmt.Errorf("config: keep must be at least 2, got %d", c.Keep)
	}
	switch strings.ToLower(c.Browser.Stealth) {
	case "stealth", "plain", "headless":
	default:
		return fmt.Errorf("config: unknown browser stealth %q", c.Browser.Stealth)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = "screenshots"
	}
	if c.FullPagePath == "" {
		c.FullPagePath = "full_screenshot.png"
	}
	if c.Keep == 0 {
		c.Keep = 5
	}
	if c.Caption == "" {
		c.Caption = DefaultCaption
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.Probe.URL == "" {
		c.Probe.URL = "https://www.google.com"
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 5 * time.Second
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 60 * time.Second
	}
	if c.Capture.Settle <= 0 {
		c.Capture.Settle = 5 * time.Second
	}
	if c.Capture.ReadyTimeout <= 0 {
		c.Capture.ReadyTimeout = 20 * time.Second
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "stealth"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 1024
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout <= 0 {
		c.Telegram.Timeout = 30 * time.Second
	}
	if c.EventsRetention <= 0 {
		c.EventsRetention = 30 * 24 * time.Hour
	}
}
