package crop

import "math"

// ringRadii are the base distances (before reach scaling) of the sampling rings
// around the image center.
var ringRadii = []float64{0.05, 0.10, 0.15, 0.20}

// ringAngles is the number of samples taken on each ring.
const ringAngles = 8

// maxCenterDistance is the distance from (0.5, 0.5) to a corner of the unit square.
var maxCenterDistance = math.Sqrt(0.5)

// CenterWeighted prefers crops close to the image center that keep as much
// of the image as possible away from the edges.
type CenterWeighted struct {
	t TuningConfig
}

// NewCenterWeighted creates the center-weighted analyzer.
func NewCenterWeighted(t TuningConfig) *CenterWeighted {
	return &CenterWeighted{t: t}
}

func (a *CenterWeighted) Strategy() Strategy     { return StrategyCenterWeighted }
func (a *CenterWeighted) Weight() float64        { return a.t.CenterWeight }
func (a *CenterWeighted) EnabledByDefault() bool { return true }
func (a *CenterWeighted) MinConfidence() float64 { return a.t.CenterMinConfidence }

// Analyze implements Analyzer.
func (a *CenterWeighted) Analyze(src *Source, target Size, reach float64) (Score, error) {
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}

	var cands []scoredCandidate
	for _, p := range a.candidates(w, h, reach) {
		c := place(p[0], p[1], w, h)
		cands = append(cands, a.score(c, src.AspectRatio()))
	}
	return finish(src, target, a.Strategy(), cands), nil
}

// candidates returns the center, ring samples and edge-safe inset positions.
func (a *CenterWeighted) candidates(w, h, reach float64) [][2]float64 {
	points := [][2]float64{{0.5, 0.5}}
	for _, r := range ringRadii {
		radius := r * reach
		if radius <= 0 {
			continue
		}
		for i := 0; i < ringAngles; i++ {
			theta := 2 * math.Pi * float64(i) / ringAngles
			points = append(points, [2]float64{0.5 + radius*math.Cos(theta), 0.5 + radius*math.Sin(theta)})
		}
	}

	m := a.t.EdgeSafetyThreshold
	xs := []float64{0.5}
	if w+2*m <= 1 {
		xs = append(xs, m+w/2, 1-m-w/2)
	}
	ys := []float64{0.5}
	if h+2*m <= 1 {
		ys = append(ys, m+h/2, 1-m-h/2)
	}
	for _, x := range xs {
		for _, y := range ys {
			if x == 0.5 && y == 0.5 {
				continue
			}
			points = append(points, [2]float64{x, y})
		}
	}
	return points
}

func (a *CenterWeighted) score(c Coordinates, imageAspect float64) scoredCandidate {
	d := distance(c.CenterX(), c.CenterY(), 0.5, 0.5)
	centerDistance := math.Exp(-2 * d / maxCenterDistance)
	content := contentPreservation(c.Area())
	edgeSafety := edgeSafetyScore(c, a.t.EdgeSafetyThreshold)
	aspect := aspectPreservation(c, imageAspect)

	value := weighted(
		a.t.CenterDistanceWeight, centerDistance,
		a.t.CenterContentWeight, content,
		a.t.CenterEdgeSafetyWeight, edgeSafety,
		a.t.CenterAspectWeight, aspect,
	)
	return evaluate(c, value, map[string]float64{
		"center_distance":       centerDistance,
		"content_preservation":  content,
		"edge_safety":           edgeSafety,
		"aspect_ratio_fidelity": aspect,
	})
}

// contentPreservation rewards larger retained area with a piecewise-linear curve.
func contentPreservation(area float64) float64 {
	switch {
	case area >= 0.9:
		return 1.0
	case area >= 0.7:
		return 0.8 + (area-0.7)/0.2*0.2
	case area >= 0.5:
		return 0.6 + (area-0.5)/0.2*0.2
	case area > 0:
		return area / 0.5 * 0.6
	default:
		return 0
	}
}

// edgeSafetyScore is the smallest margin to any edge relative to threshold.
func edgeSafetyScore(c Coordinates, threshold float64) float64 {
	margin := math.Min(math.Min(c.X, c.Y), math.Min(1-c.X-c.Width, 1-c.Y-c.Height))
	if threshold <= 0 || margin >= threshold {
		return 1.0
	}
	return clamp(margin/threshold, 0, 1)
}

// aspectPreservation compares the crop's pixel aspect ratio with the image's.
func aspectPreservation(c Coordinates, imageAspect float64) float64 {
	if imageAspect <= 0 || c.Height <= 0 {
		return 0
	}
	cropAspect := c.Width / c.Height * imageAspect
	return math.Max(0, 1-math.Abs(cropAspect-imageAspect)/imageAspect)
}
