// Package diff decides whether two captures differ.
//
// The decision is exact: any pixel whose RGBA value differs makes the pair
// different. A perceptual hash distance is computed alongside for logging;
// it never drives the decision.
package diff

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoder
	_ "image/png"  // decoder
	"log/slog"
	"os"

	"github.com/corona10/goimagehash"
)

// ErrSizeMismatch is returned when the two images have different dimensions.
var ErrSizeMismatch = errors.New("diff: image sizes differ")

// Result is the outcome of comparing two images.
type Result struct {
	Different bool
	// Bounds is the bounding box of differing pixels in the coordinates of
	// the first image. Empty when the images are equal.
	Bounds image.Rectangle
	// HashDistance is the perceptual hash Hamming distance, -1 if it could
	// not be computed.
	HashDistance int
}

// Detector compares images and fails closed: any error is logged and
// reported as "not different".
type Detector struct {
	logger *slog.Logger
}

// New creates a Detector.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Compare computes the pixel difference between a and b.
func (d *Detector) Compare(a, b image.Image) (Result, error) {
	if a == nil || b == nil {
		return Result{HashDistance: -1}, errors.New("diff: nil image")
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return Result{HashDistance: -1}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch, ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	var box image.Rectangle
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2 {
				continue
			}
			px := image.Rect(ab.Min.X+x, ab.Min.Y+y, ab.Min.X+x+1, ab.Min.Y+y+1)
			box = box.Union(px)
		}
	}

	return Result{
		Different:    !box.Empty(),
		Bounds:       box,
		HashDistance: d.hashDistance(a, b),
	}, nil
}

// Differ reports whether a and b differ. Errors yield false.
func (d *Detector) Differ(a, b image.Image) bool {
	res, err := d.Compare(a, b)
	if err != nil {
		d.logger.Warn("diff: compare failed, assuming no change", "error", err)
		return false
	}
	return res.Different
}

// CompareFiles decodes both files and compares them.
func (d *Detector) CompareFiles(olderPath, newerPath string) (Result, error) {
	a, err := Load(olderPath)
	if err != nil {
		return Result{HashDistance: -1}, err
	}
	b, err := Load(newerPath)
	if err != nil {
		return Result{HashDistance: -1}, err
	}
	return d.Compare(a, b)
}

// DifferFiles reports whether the images stored at the two paths differ.
// Missing or corrupt files yield false.
func (d *Detector) DifferFiles(olderPath, newerPath string) bool {
	res, err := d.CompareFiles(olderPath, newerPath)
	if err != nil {
		d.logger.Warn("diff: compare failed, assuming no change",
			"older", olderPath, "newer", newerPath, "error", err)
		return false
	}
	if res.Different {
		d.logger.Debug("diff: images differ", "bounds", res.Bounds.String(), "phash_distance", res.HashDistance)
	}
	return res.Different
}

// Load decodes an image file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diff: open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("diff: decode %s: %w", path, err)
	}
	return img, nil
}

func (d *Detector) hashDistance(a, b image.Image) int {
	ha, err := goimagehash.PerceptionHash(a)
	if err != nil {
		d.logger.Debug("diff: phash failed", "error", err)
		return -1
	}
	hb, err := goimagehash.PerceptionHash(b)
	if err != nil {
		d.logger.Debug("diff: phash failed", "error", err)
		return -1
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return -1
	}
	return dist
}
