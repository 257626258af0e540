package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRenderer struct {
	data  []byte
	err   error
	block bool
	calls int
	url   string
}

func (f *fakeRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	f.calls++
	f.url = pageURL
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.data, f.err
}

func page(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

var fixed = time.Date(2024, 3, 1, 12, 30, 45, 987654321, time.Local)

func TestCapture_CropsAndStamps(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full_screenshot.png")
	r := &fakeRenderer{data: page(1280, 1024)}
	c := New(r, Config{
		URL:          "https://example.com/listing",
		FullPagePath: full,
		Now:          func() time.Time { return fixed },
	})

	capt, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if r.url != "https://example.com/listing" {
		t.Errorf("url: got %q", r.url)
	}
	if got := capt.Image.Bounds(); got != image.Rect(0, 0, 730, 560) {
		t.Fatalf("bounds: got %v", got)
	}
	if !capt.Timestamp.Equal(fixed.Truncate(time.Second)) {
		t.Errorf("timestamp: got %v", capt.Timestamp)
	}
	if capt.ID == "" {
		t.Error("empty capture id")
	}

	// Top-left of the crop is page pixel (70, 240).
	r0, g0, _, _ := capt.Image.At(0, 0).RGBA()
	if uint8(r0>>8) != 70 || uint8(g0>>8) != uint8(240) {
		t.Errorf("crop origin pixel: r=%d g=%d", r0>>8, g0>>8)
	}

	if _, err := os.Stat(full); err != nil {
		t.Errorf("full page file not written: %v", err)
	}
}

func TestCapture_IDFailureIsCaptureError(t *testing.T) {
	// WHAT: an ID generator failure fails the capture instead of panicking.
	idErr := errors.New("entropy exhausted")
	c := New(&fakeRenderer{data: page(1280, 1024)}, Config{
		URL:   "https://x",
		NewID: func() (uuid.UUID, error) { return uuid.Nil, idErr },
	})
	capt, err := c.Capture(context.Background())
	if !errors.Is(err, idErr) || capt != nil {
		t.Fatalf("got %v, %v; want wrapped id error", capt, err)
	}
}

func TestCapture_RenderError(t *testing.T) {
	c := New(&fakeRenderer{err: errors.New("chrome crashed")}, Config{URL: "https://x"})
	if _, err := c.Capture(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCapture_Timeout(t *testing.T) {
	// WHAT: a render that never returns becomes ErrTimeout once the capture timeout fires.
	// WHY: a hung browser must surface as a capture failure, not stall the loop.
	c := New(&fakeRenderer{block: true}, Config{URL: "https://x", Timeout: 30 * time.Millisecond})
	_, err := c.Capture(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCapture_CorruptRender(t *testing.T) {
	c := New(&fakeRenderer{data: []byte("not a png")}, Config{URL: "https://x"})
	if _, err := c.Capture(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCrop_PadsOutsideSource(t *testing.T) {
	// WHAT: a render smaller than the crop rectangle still yields the full crop size.
	// WHY: consecutive captures must keep identical dimensions to be comparable.
	src := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			src.Set(x, y, color.White)
		}
	}

	got, padded := Crop(src, CropRect)
	if !padded {
		t.Fatal("expected padded")
	}
	if got.Bounds() != image.Rect(0, 0, 730, 560) {
		t.Fatalf("bounds: got %v", got.Bounds())
	}
	if c := got.RGBAAt(0, 0); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("inside pixel: got %v", c)
	}
	if c := got.RGBAAt(0, 559); c != (color.RGBA{}) {
		t.Errorf("padded pixel: got %v", c)
	}
}

func TestCrop_Inside(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1000, 1000))
	if _, padded := Crop(src, CropRect); padded {
		t.Fatal("unexpected padding")
	}
}
