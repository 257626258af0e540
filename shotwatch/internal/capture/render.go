package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/listingwatch/shotwatch/internal/browser"
)

// ChromeRenderer renders pages in a browser session from a Manager. Each
// Render acquires its own session and releases it on every path.
type ChromeRenderer struct {
	Manager *browser.Manager
	// Settle is how long the page must stay quiet before the screenshot.
	Settle time.Duration
	// ReadyTimeout bounds the wait for the page to settle.
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Render implements Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	sess, err := r.Manager.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger().Warn("capture: browser session close failed", "url", pageURL, "error", err)
		}
	}()

	tab, err := sess.OpenTab(ctx, pageURL)
	if err != nil {
		r.Manager.DropRemote()
		return nil, err
	}

	readyCtx := ctx
	if r.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, r.ReadyTimeout)
		defer cancel()
	}
	if err := tab.WaitReady(readyCtx, r.Settle); err != nil {
		return nil, err
	}

	return tab.Screenshot(ctx, true)
}

func (r *ChromeRenderer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
