// Package connectivity answers one question before each poll cycle: can this
// process reach the public internet right now?
//
//	p := connectivity.NewProbe(connectivity.ProbeConfig{})
//	if !p.IsConnected(ctx) {
//	    return // skip this cycle
//	}
//
// The probe never retries. The next scheduled cycle is the retry.
package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProbeURL is a well-known endpoint that is expected to answer
// whenever outbound access works.
const DefaultProbeURL = "https://www.google.com"

// DefaultProbeTimeout bounds a single reachability check.
const DefaultProbeTimeout = 5 * time.Second

// ProbeConfig tunes a Probe.
type ProbeConfig struct {
	// URL is the endpoint to GET. Default: DefaultProbeURL.
	URL string
	// Timeout bounds the whole request. Default: DefaultProbeTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client (tests). Its own Timeout is ignored
	// in favour of the context deadline.
	Client *http.Client
	Logger *slog.Logger
}

func (c *ProbeConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultProbeURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Probe performs short-timeout reachability checks.
type Probe struct {
	cfg ProbeConfig
}

// NewProbe creates a Probe.
func NewProbe(cfg ProbeConfig) *Probe {
	cfg.defaults()
	return &Probe{cfg: cfg}
}

// URL returns the endpoint being probed.
func (p *Probe) URL() string { return p.cfg.URL }

// Check issues one GET against the probe URL. Any HTTP response counts as
// reachable, whatever its status code: only transport-level failures
// (timeout, DNS, refused connection) are reported.
func (p *Probe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return &ErrUnreachable{URL: p.cfg.URL, Cause: err}
	}
	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return &ErrUnreachable{URL: p.cfg.URL, Cause: err}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return nil
}

// IsConnected reports whether the probe URL answered within the timeout.
// It never fails: every error is logged at debug level and reported as false.
func (p *Probe) IsConnected(ctx context.Context) bool {
	if err := p.Check(ctx); err != nil {
		p.cfg.Logger.Debug("connectivity: probe failed", "url", p.cfg.URL, "error", err)
		return false
	}
	return true
}

// ErrUnreachable is returned by Check when the probe URL could not be reached.
type ErrUnreachable struct {
	URL   string
	Cause error
}

func (e *ErrUnreachable) Error() string {
	return fmt.Sprintf("connectivity: %s unreachable: %v", e.URL, e.Cause)
}

func (e *ErrUnreachable) Unwrap() error { return e.Cause }
