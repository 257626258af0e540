// Package browser manages the Chrome sessions used to render the monitored
// page: launch a local headless-shell (or attach to a remote DevTools
// endpoint), open stealth tabs, and tear everything down when a capture is
// done.
//
// A local session owns its Chrome process. Closing the session kills it, so
// every capture starts from a clean profile. A remote browser is attached
// once and shared; closing a session on it only closes the session's tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelPlain   StealthLevel = 0 // Rod headless, no evasions
	LevelStealth StealthLevel = 1 // Rod headless + stealth evasions
)

// ParseStealth maps a config string to a StealthLevel.
func ParseStealth(s string) (StealthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stealth":
		return LevelStealth, nil
	case "plain", "headless":
		return LevelPlain, nil
	}
	return LevelPlain, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome per session.
	RemoteURL string

	// Bin is the Chrome binary. Empty = let the launcher find or download one.
	Bin string

	// NoSandbox disables the Chrome sandbox (needed when running as root
	// in containers).
	NoSandbox bool

	// Stealth sets the tab automation mode. Default: LevelStealth.
	Stealth StealthLevel

	// ResourceBlocking lists resource types to block (fonts, media, ...).
	ResourceBlocking []string

	// ViewportWidth and ViewportHeight size the rendering surface.
	// Default: 1280x1024.
	ViewportWidth  int
	ViewportHeight int

	// NavigateTimeout bounds navigation plus the load event. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1024
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager hands out browser sessions.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	remote *rod.Browser // shared remote connection, lazily attached
	closed bool
}

// NewManager creates a browser Manager.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Session is one acquired browser. Close must always be called.
type Session struct {
	ctx     context.Context
	browser *rod.Browser
	lnch    *launcher.Launcher
	owned   bool
	mgr     *Manager

	mu   sync.Mutex
	tabs []*Tab
}

// Open acquires a browser session: a freshly launched local Chrome, or the
// shared remote connection.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser: manager is closed")
	}

	if m.cfg.RemoteURL != "" {
		if m.remote == nil {
			b := rod.New().ControlURL(m.cfg.RemoteURL)
			if err := b.Connect(); err != nil {
				return nil, fmt.Errorf("browser: connect remote: %w", err)
			}
			m.cfg.Logger.Info("browser: connected to remote", "url", m.cfg.RemoteURL)
			m.remote = b
		}
		return &Session{ctx: ctx, browser: m.remote.Context(ctx), mgr: m}, nil
	}

	l := launcher.New().Context(ctx).Headless(true)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	// Anti-detection flags.
	l = l.Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.cfg.Logger.Debug("browser: launched local chrome", "url", u)

	return &Session{ctx: ctx, browser: b.Context(ctx), lnch: l, owned: true, mgr: m}, nil
}

// DropRemote forgets the shared remote connection so the next Open
// reconnects. Called after a session on it failed.
func (m *Manager) DropRemote() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remote != nil {
		m.remote = nil
		m.cfg.Logger.Info("browser: remote connection dropped")
	}
}

// Close releases the shared remote connection. Sessions already handed out
// stay valid until they are closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.remote = nil
	return nil
}

// closeTimeout bounds tab and browser teardown.
const closeTimeout = 5 * time.Second

// closeContext returns a context for teardown that survives cancellation of
// the session context. A capture that timed out must still close its tabs,
// otherwise they leak in a shared remote Chrome.
func (s *Session) closeContext() (context.Context, context.CancelFunc) {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), closeTimeout)
}

// Close closes every tab opened on the session and, for a local session,
// shuts Chrome down and removes its profile directory. Safe to call on any
// partially-initialised session, and after the session context expired.
func (s *Session) Close() error {
	s.mu.Lock()
	tabs := s.tabs
	s.tabs = nil
	s.mu.Unlock()

	ctx, cancel := s.closeContext()
	defer cancel()

	var errs []error
	for _, t := range tabs {
		if err := t.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.owned {
		if s.browser != nil {
			if err := s.browser.Context(ctx).Close(); err != nil {
				errs = append(errs, fmt.Errorf("browser: close: %w", err))
			}
		}
		if s.lnch != nil {
			s.lnch.Kill()
			s.lnch.Cleanup()
		}
	}
	return errors.Join(errs...)
}

func (s *Session) track(t *Tab) {
	s.mu.Lock()
	s.tabs = append(s.tabs, t)
	s.mu.Unlock()
}
