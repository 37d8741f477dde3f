// Package crop scores and chooses content-aware crop rectangles.
package crop

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// epsilon is the floating tolerance used for bounds checks.
const epsilon = 1e-9

// ErrInvalidTargetSize is returned when a target size has a non-positive side.
var ErrInvalidTargetSize = errors.New("invalid target size")

// Strategy identifies which analyzer produced a crop.
type Strategy string

// Strategy tags
const (
	StrategyCenterWeighted Strategy = "center_weighted"
	StrategyRuleOfThirds   Strategy = "rule_of_thirds"
	StrategyEntropy        Strategy = "entropy"
	StrategyEdgeDetection  Strategy = "edge_detection"
	StrategySmartcrop      Strategy = "smartcrop"
	StrategyFace           Strategy = "face"
	StrategyFallback       Strategy = "fallback"
)

// Size is a target output size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate rejects sizes with a non-positive side.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidTargetSize, s.Width, s.Height)
	}
	return nil
}

// AspectRatio returns width/height.
func (s Size) AspectRatio() float64 {
	return float64(s.Width) / float64(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Coordinates is a crop rectangle normalized to the unit square.
type Coordinates struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Confidence float64  `json:"confidence"`
	Strategy   Strategy `json:"strategy"`
}

// CenterX returns the horizontal center of the crop.
func (c Coordinates) CenterX() float64 { return c.X + c.Width/2 }

// CenterY returns the vertical center of the crop.
func (c Coordinates) CenterY() float64 { return c.Y + c.Height/2 }

// Area returns the normalized area of the crop.
func (c Coordinates) Area() float64 { return c.Width * c.Height }

// Valid reports whether the crop lies inside the unit square and has a usable confidence.
func (c Coordinates) Valid() bool {
	for _, v := range []float64{c.X, c.Y, c.Width, c.Height, c.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.X >= -epsilon && c.Y >= -epsilon &&
		c.Width > 0 && c.Height > 0 &&
		c.X+c.Width <= 1+epsilon && c.Y+c.Height <= 1+epsilon &&
		c.Confidence >= 0 && c.Confidence <= 1
}

// Clamp returns a copy moved (and if needed shrunk) into the unit square.
func (c Coordinates) Clamp() Coordinates {
	c.Width = clamp(c.Width, 0, 1)
	c.Height = clamp(c.Height, 0, 1)
	c.X = clamp(c.X, 0, 1-c.Width)
	c.Y = clamp(c.Y, 0, 1-c.Height)
	c.Confidence = clamp(c.Confidence, 0, 1)
	return c
}

// Rect converts the crop to a pixel rectangle inside bounds.
func (c Coordinates) Rect(bounds image.Rectangle) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	x0 := bounds.Min.X + int(math.Round(c.X*w))
	y0 := bounds.Min.Y + int(math.Round(c.Y*h))
	x1 := bounds.Min.X + int(math.Round((c.X+c.Width)*w))
	y1 := bounds.Min.Y + int(math.Round((c.Y+c.Height)*h))
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// Dimensions returns the normalized crop width and height that preserve the
// target aspect ratio while staying inside an image of the given aspect ratio.
func Dimensions(imageAspect, targetAspect float64) (float64, float64) {
	if !(imageAspect > 0) || !(targetAspect > 0) || math.IsInf(imageAspect, 0) || math.IsInf(targetAspect, 0) {
		return 1, 1
	}
	if targetAspect > imageAspect {
		return 1, imageAspect / targetAspect
	}
	return targetAspect / imageAspect, 1
}

// CenterCrop returns the geometric center crop for an image of imageSize
// cropped to the aspect ratio of target.
func CenterCrop(imageSize, target Size, confidence float64, strategy Strategy) Coordinates {
	w, h := 1.0, 1.0
	if imageSize.Width > 0 && imageSize.Height > 0 && target.Width > 0 && target.Height > 0 {
		w, h = Dimensions(imageSize.AspectRatio(), target.AspectRatio())
	}
	return centered(0.5, 0.5, w, h, confidence, strategy)
}

// centered builds an in-bounds crop of w x h centered as close to (cx, cy) as possible.
func centered(cx, cy, w, h, confidence float64, strategy Strategy) Coordinates {
	return Coordinates{
		X:          cx - w/2,
		Y:          cy - h/2,
		Width:      w,
		Height:     h,
		Confidence: confidence,
		Strategy:   strategy,
	}.Clamp()
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
