// Package capture turns one render of the monitored page into a cropped,
// timestamped image.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CropRect is the region of the rendered page that holds the content of
// interest. It is tied to the current page layout: if the layout moves, the
// comparison silently watches the wrong region.
var CropRect = image.Rect(70, 240, 800, 800)

// ErrTimeout is returned when the capture did not finish within its timeout.
var ErrTimeout = errors.New("capture: timed out")

// Capture is one cropped screenshot. It is immutable once created.
type Capture struct {
	ID        string
	Timestamp time.Time
	Image     image.Image
}

// Renderer renders a page to PNG bytes.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Config configures a Capturer.
type Config struct {
	// URL is the page to capture.
	URL string
	// FullPagePath is the transient file holding the uncropped render,
	// overwritten every capture. Empty disables it.
	FullPagePath string
	// Timeout bounds the whole capture. Default: 60s.
	Timeout time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// NewID generates capture IDs. Default: uuid.NewV7.
	NewID  func() (uuid.UUID, error)
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewV7
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Capturer renders, crops and stamps the monitored page.
type Capturer struct {
	renderer Renderer
	cfg      Config
}

// New creates a Capturer.
func New(r Renderer, cfg Config) *Capturer {
	cfg.defaults()
	return &Capturer{renderer: r, cfg: cfg}
}

// Capture renders the page and returns the cropped image. Every failure,
// including running out of time, is returned as an error; nothing is
// persisted except the transient full-page file.
func (c *Capturer) Capture(ctx context.Context) (*Capture, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	data, err := c.renderer.Render(ctx, c.cfg.URL)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, c.cfg.Timeout, err)
		}
		return nil, fmt.Errorf("capture: render %s: %w", c.cfg.URL, err)
	}

	if c.cfg.FullPagePath != "" {
		if err := writeFile(c.cfg.FullPagePath, data); err != nil {
			return nil, err
		}
	}

	full, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode render: %w", err)
	}

	cropped, padded := Crop(full, CropRect)
	if padded {
		c.cfg.Logger.Warn("capture: crop rectangle exceeds rendered page, padding",
			"rendered", full.Bounds().String(), "crop", CropRect.String())
	}

	id, err := c.cfg.NewID()
	if err != nil {
		return nil, fmt.Errorf("capture: new id: %w", err)
	}
	capt := &Capture{
		ID:        id.String(),
		Timestamp: c.cfg.Now().Truncate(time.Second),
		Image:     cropped,
	}
	c.cfg.Logger.Info("capture: rendered", "capture_id", capt.ID, "duration", time.Since(start))
	return capt, nil
}

// Crop copies rect out of src into a new image anchored at (0,0). Parts of
// rect outside src are left transparent black, so the result always has
// rect's size. padded reports whether that happened.
func Crop(src image.Image, rect image.Rectangle) (img *image.RGBA, padded bool) {
	sb := src.Bounds()
	abs := rect.Add(sb.Min)
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, abs.Min, draw.Src)
	return dst, !abs.In(sb)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("capture: mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("capture: write full page: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("capture: write full page: %w", err)
	}
	return nil
}
