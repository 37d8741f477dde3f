package crop

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
)

// Smartcrop delegates the search to muesli/smartcrop's skin/saturation/detail
// heuristics on the analysis thumbnail.
type Smartcrop struct {
	t         TuningConfig
	resampler imaging.ResampleFilter
}

// NewSmartcrop creates the smartcrop analyzer.
func NewSmartcrop(t TuningConfig) *Smartcrop {
	return &Smartcrop{t: t, resampler: imaging.Lanczos}
}

func (a *Smartcrop) Strategy() Strategy     { return StrategySmartcrop }
func (a *Smartcrop) Weight() float64        { return a.t.SmartcropWeight }
func (a *Smartcrop) EnabledByDefault() bool { return false }
func (a *Smartcrop) MinConfidence() float64 { return a.t.SmartcropMinConfidence }

// Analyze implements Analyzer. smartcrop does its own placement, so reach is ignored.
func (a *Smartcrop) Analyze(src *Source, target Size, _ float64) (Score, error) {
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}
	thumb := src.Thumbnail()
	tw, th := src.Bounds()

	// Ask for the largest crop of the target aspect that fits the thumbnail.
	cw := max(int(math.Round(w*float64(tw))), 1)
	ch := max(int(math.Round(h*float64(th))), 1)

	analyzer := smartcrop.NewAnalyzer(&resizer{resampler: a.resampler})
	rect, err := analyzer.FindBestCrop(thumb, cw, ch)
	if err != nil {
		return Score{}, fmt.Errorf("finding best crop: %w", err)
	}
	rect = rect.Intersect(image.Rect(0, 0, tw, th))
	if rect.Empty() {
		return Score{}, ErrNoCandidates
	}

	// Re-center a crop of the exact dimensions on smartcrop's choice so the
	// aspect ratio is preserved even when smartcrop picked a smaller scale.
	cx := (float64(rect.Min.X) + float64(rect.Dx())/2) / float64(tw)
	cy := (float64(rect.Min.Y) + float64(rect.Dy())/2) / float64(th)
	c := place(cx, cy, w, h)

	fidelity := 0.0
	if rect.Dy() > 0 {
		got := float64(rect.Dx()) / float64(rect.Dy())
		want := float64(cw) / float64(ch)
		fidelity = math.Max(0, 1-math.Abs(got-want)/want)
	}
	value := a.t.SmartcropBaseScore * fidelity
	cand := evaluate(c, value, map[string]float64{"aspect_fidelity": fidelity})
	return finish(src, target, a.Strategy(), []scoredCandidate{cand}), nil
}

// resizer implements smartcrop's Resizer on top of imaging.
type resizer struct {
	resampler imaging.ResampleFilter
}

// Resize scales img to width x height.
func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}
