package crop

import (
	"errors"
	"math"
)

// ErrNoCandidates is returned when an analyzer could not produce any valid candidate.
var ErrNoCandidates = errors.New("no crop candidates")

// Analyzer is one crop strategy. Implementations are pure: they never mutate
// the Source and keep no state between calls.
type Analyzer interface {
	Strategy() Strategy
	Weight() float64
	EnabledByDefault() bool
	// MinConfidence is the confidence below which a proposal is treated as low-trust.
	MinConfidence() float64
	// Analyze returns the best scoring crop for target. reach scales how far
	// candidates may drift from the image center (see Aggressiveness.Reach).
	Analyze(src *Source, target Size, reach float64) (Score, error)
}

// DefaultAnalyzers returns the built-in analyzers in registration order.
// The face analyzer only produces proposals when detector is non-nil.
func DefaultAnalyzers(t TuningConfig, detector FaceDetector) []Analyzer {
	return []Analyzer{
		NewCenterWeighted(t),
		NewRuleOfThirds(t),
		NewEntropy(t),
		NewEdgeDetection(t),
		NewSmartcrop(t),
		NewFace(t, detector),
	}
}

// standardPositions are the fallback crop centers: image center and the four
// rule-of-thirds intersections.
var standardPositions = [][2]float64{
	{0.5, 0.5},
	{1.0 / 3, 1.0 / 3},
	{2.0 / 3, 1.0 / 3},
	{1.0 / 3, 2.0 / 3},
	{2.0 / 3, 2.0 / 3},
}

// cropSize computes the normalized crop dimensions for a source and target.
func cropSize(src *Source, target Size) (float64, float64, error) {
	if err := target.Validate(); err != nil {
		return 0, 0, err
	}
	w, h := Dimensions(src.AspectRatio(), target.AspectRatio())
	if !(w > 0) || !(h > 0) {
		return 0, 0, ErrNoCandidates
	}
	return w, h, nil
}

// scoredCandidate is one evaluated candidate crop.
type scoredCandidate struct {
	coords  Coordinates
	value   float64
	metrics map[string]float64
}

// selectBest picks the highest score, breaking ties by higher confidence and
// then by generation order (the earlier candidate wins).
func selectBest(cands []scoredCandidate) (scoredCandidate, bool) {
	best := -1
	for i, c := range cands {
		if !c.coords.Valid() || math.IsNaN(c.value) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := cands[best]
		if c.value > b.value || (c.value == b.value && c.coords.Confidence > b.coords.Confidence) {
			best = i
		}
	}
	if best < 0 {
		return scoredCandidate{}, false
	}
	return cands[best], true
}

// finish turns the evaluated candidates into a Score, falling back to the
// geometric center crop when nothing usable was produced.
func finish(src *Source, target Size, strategy Strategy, cands []scoredCandidate) Score {
	best, ok := selectBest(cands)
	if !ok {
		c := CenterCrop(src.Size(), target, 0, strategy)
		return Score{Coordinates: c, Value: 0, Strategy: strategy}
	}
	best.coords.Strategy = strategy
	return Score{
		Coordinates: best.coords,
		Value:       best.value,
		Strategy:    strategy,
		Metrics:     best.metrics,
	}
}

// place builds an in-bounds crop of w x h centered as close to (cx, cy) as possible.
func place(cx, cy, w, h float64) Coordinates {
	return centered(cx, cy, w, h, 0, "")
}

// evaluate scores a placed crop; the candidate's confidence is its clamped score.
func evaluate(c Coordinates, value float64, metrics map[string]float64) scoredCandidate {
	c.Confidence = clamp(value, 0, 1)
	return scoredCandidate{coords: c, value: value, metrics: metrics}
}

// pullToCenter moves a point toward the image center according to reach.
func pullToCenter(x, y, reach float64) (float64, float64) {
	r := clamp(reach, 0, 1)
	return 0.5 + (x-0.5)*r, 0.5 + (y-0.5)*r
}

// weighted sums metric values multiplied by their weights.
func weighted(pairs ...float64) float64 {
	var sum float64
	for i := 0; i+1 < len(pairs); i += 2 {
		sum += pairs[i] * pairs[i+1]
	}
	return sum
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x1-x2, y1-y2)
}
