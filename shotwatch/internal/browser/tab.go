package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrNotReady is returned by WaitReady when the page did not settle before
// the context deadline.
var ErrNotReady = errors.New("browser: page did not settle")

// Tab wraps a Rod page with stealth, viewport and resource blocking applied.
type Tab struct {
	Page    *rod.Page
	PageURL string
	router  *rod.HijackRouter
}

// OpenTab creates a new tab on the session, sizes the viewport and
// navigates to pageURL, waiting for the load event. The tab is closed with
// the session.
func (s *Session) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	cfg := s.mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Stealth >= LevelStealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL}
	s.track(t)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		router, err := applyResourceBlocking(page, cfg.ResourceBlocking)
		if err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			t.router = router
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", pageURL, err)
	}
	return t, nil
}

// WaitReady blocks until the page has been stable (no pending requests, no
// DOM changes) for the settle duration. The caller's context bounds the
// wait; running out of time returns ErrNotReady.
func (t *Tab) WaitReady(ctx context.Context, settle time.Duration) error {
	if err := t.Page.Context(ctx).WaitStable(settle); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w after waiting for %s stability: %w", ErrNotReady, settle, ctx.Err())
		}
		return fmt.Errorf("browser: wait stable: %w", err)
	}
	return nil
}

// Screenshot renders the page as PNG. fullPage captures beyond the viewport.
func (t *Tab) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := t.Page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// close stops request interception and closes the tab under ctx.
func (t *Tab) close(ctx context.Context) error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		err := t.Page.Context(ctx).Close()
		t.Page = nil
		if err != nil {
			return fmt.Errorf("browser: close tab %s: %w", t.PageURL, err)
		}
	}
	return nil
}
