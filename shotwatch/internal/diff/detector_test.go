package diff

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiffer_Identical(t *testing.T) {
	d := New(nil)
	if d.Differ(gradient(32, 24), gradient(32, 24)) {
		t.Fatal("identical images reported different")
	}
}

func TestDiffer_SinglePixel(t *testing.T) {
	// WHAT: altering one pixel flips the result and the bounding box is that pixel.
	// WHY: the detector must catch the smallest visual change.
	d := New(nil)
	a := gradient(32, 24)
	b := gradient(32, 24)
	b.Set(10, 7, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	res, err := d.Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Different {
		t.Fatal("single-pixel change not detected")
	}
	if want := image.Rect(10, 7, 11, 8); res.Bounds != want {
		t.Fatalf("bounds: got %v, want %v", res.Bounds, want)
	}
	if d.Differ(a, b) != d.Differ(b, a) {
		t.Fatal("differ is not symmetric")
	}
}

func TestCompare_BoundingBoxSpansRegion(t *testing.T) {
	d := New(nil)
	a := gradient(40, 40)
	b := gradient(40, 40)
	b.Set(5, 30, color.Black)
	b.Set(20, 2, color.Black)

	res, _ := d.Compare(a, b)
	if want := image.Rect(5, 2, 21, 31); res.Bounds != want {
		t.Fatalf("bounds: got %v, want %v", res.Bounds, want)
	}
}

func TestCompare_OffsetOrigins(t *testing.T) {
	// WHAT: sub-images with different origins compare by relative position.
	// WHY: a crop keeps the parent's coordinates.
	d := New(nil)
	full := gradient(64, 64)
	a := full.SubImage(image.Rect(10, 10, 30, 30))
	b := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			b.Set(x, y, full.At(10+x, 10+y))
		}
	}
	if d.Differ(a, b) {
		t.Fatal("same pixels at different origins reported different")
	}
}

func TestDiffer_SizeMismatchFailsClosed(t *testing.T) {
	d := New(nil)
	if d.Differ(gradient(10, 10), gradient(10, 11)) {
		t.Fatal("size mismatch must yield false")
	}
	if _, err := d.Compare(gradient(10, 10), gradient(11, 10)); err == nil {
		t.Fatal("expected ErrSizeMismatch")
	}
}

func TestDifferFiles(t *testing.T) {
	dir := t.TempDir()
	a := gradient(16, 16)
	b := gradient(16, 16)
	b.Set(0, 0, color.White)

	pa := writePNG(t, dir, "a.png", a)
	pa2 := writePNG(t, dir, "a2.png", a)
	pb := writePNG(t, dir, "b.png", b)

	d := New(nil)
	if d.DifferFiles(pa, pa2) {
		t.Error("identical files reported different")
	}
	if !d.DifferFiles(pa, pb) {
		t.Error("changed file not detected")
	}
}

func TestDifferFiles_CorruptFailsClosed(t *testing.T) {
	// WHAT: a corrupt or missing image yields false, not an error or panic.
	// WHY: fail closed, a broken file must not trigger an alert.
	dir := t.TempDir()
	good := writePNG(t, dir, "good.png", gradient(8, 8))
	corrupt := filepath.Join(dir, "corrupt.png")
	os.WriteFile(corrupt, []byte("\x89PNG not really"), 0o644)

	d := New(nil)
	if d.DifferFiles(corrupt, good) {
		t.Error("corrupt older file must yield false")
	}
	if d.DifferFiles(good, corrupt) {
		t.Error("corrupt newer file must yield false")
	}
	if d.DifferFiles(good, filepath.Join(dir, "missing.png")) {
		t.Error("missing file must yield false")
	}
}

func TestCompare_HashDistance(t *testing.T) {
	d := New(nil)
	res, err := d.Compare(gradient(32, 32), gradient(32, 32))
	if err != nil {
		t.Fatal(err)
	}
	if res.HashDistance != 0 {
		t.Fatalf("identical images: phash distance %d", res.HashDistance)
	}
}
