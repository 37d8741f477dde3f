package crop

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ErrEmptyImage is returned when an image has no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Source is an immutable analysis snapshot of a decoded image.
// Analyzers only read from it, so one Source may be shared by concurrent analyses.
type Source struct {
	size   Size         // original pixel dimensions
	thumb  *image.NRGBA // downscaled copy, origin at 0,0
	lum    []uint8      // luminance of thumb, row major
	tw, th int          // thumb dimensions
}

// NewSource snapshots img, downscaling it so its longest side is at most maxDim.
// maxDim <= 0 keeps the original resolution.
func NewSource(img image.Image, maxDim int) (*Source, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}

	var thumb *image.NRGBA
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		thumb = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	} else {
		thumb = imaging.Clone(img)
	}

	gray := imaging.Grayscale(thumb)
	tw, th := gray.Bounds().Dx(), gray.Bounds().Dy()
	lum := make([]uint8, tw*th)
	for y := 0; y < th; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+tw*4]
		for x := 0; x < tw; x++ {
			lum[y*tw+x] = row[x*4] // R == G == B after Grayscale
		}
	}

	return &Source{
		size:  Size{Width: b.Dx(), Height: b.Dy()},
		thumb: thumb,
		lum:   lum,
		tw:    tw,
		th:    th,
	}, nil
}

// Size returns the original pixel dimensions.
func (s *Source) Size() Size { return s.size }

// AspectRatio returns the original width/height ratio.
func (s *Source) AspectRatio() float64 { return s.size.AspectRatio() }

// Thumbnail returns the downscaled snapshot. Callers must not modify it.
func (s *Source) Thumbnail() *image.NRGBA { return s.thumb }

// Bounds returns the thumbnail dimensions used for pixel sampling.
func (s *Source) Bounds() (int, int) { return s.tw, s.th }

// Luminance returns the luminance at thumbnail pixel (x, y), clamping to the frame.
func (s *Source) Luminance(x, y int) uint8 {
	x = clampInt(x, 0, s.tw-1)
	y = clampInt(y, 0, s.th-1)
	return s.lum[y*s.tw+x]
}

// toPixel maps a normalized point to thumbnail pixel coordinates.
func (s *Source) toPixel(nx, ny float64) (int, int) {
	x := int(math.Floor(nx * float64(s.tw)))
	y := int(math.Floor(ny * float64(s.th)))
	return clampInt(x, 0, s.tw-1), clampInt(y, 0, s.th-1)
}

// pixelRect maps crop coordinates to a thumbnail pixel rectangle (never empty).
func (s *Source) pixelRect(c Coordinates) image.Rectangle {
	r := c.Rect(image.Rect(0, 0, s.tw, s.th))
	if r.Dx() <= 0 {
		r.Max.X = min(r.Min.X+1, s.tw)
		r.Min.X = r.Max.X - 1
	}
	if r.Dy() <= 0 {
		r.Max.Y = min(r.Min.Y+1, s.th)
		r.Min.Y = r.Max.Y - 1
	}
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
