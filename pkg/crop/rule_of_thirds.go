package crop

import "math"

var (
	thirdLines    = []float64{1.0 / 3, 2.0 / 3}
	intersections = [][2]float64{
		{1.0 / 3, 1.0 / 3},
		{2.0 / 3, 1.0 / 3},
		{1.0 / 3, 2.0 / 3},
		{2.0 / 3, 2.0 / 3},
	}
)

// RuleOfThirds places the crop center on the classic third-line intersections.
type RuleOfThirds struct {
	t TuningConfig
}

// NewRuleOfThirds creates the rule-of-thirds analyzer.
func NewRuleOfThirds(t TuningConfig) *RuleOfThirds {
	return &RuleOfThirds{t: t}
}

func (a *RuleOfThirds) Strategy() Strategy     { return StrategyRuleOfThirds }
func (a *RuleOfThirds) Weight() float64        { return a.t.ThirdsWeight }
func (a *RuleOfThirds) EnabledByDefault() bool { return true }
func (a *RuleOfThirds) MinConfidence() float64 { return a.t.ThirdsMinConfidence }

// Analyze implements Analyzer. Composition rules are absolute, so reach is ignored.
func (a *RuleOfThirds) Analyze(src *Source, target Size, _ float64) (Score, error) {
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}

	var cands []scoredCandidate
	for _, p := range thirdsCandidates() {
		cands = append(cands, a.score(place(p[0], p[1], w, h)))
	}
	return finish(src, target, a.Strategy(), cands), nil
}

// thirdsCandidates lists the intersections, the image center and the crops
// centered on a single third-line.
func thirdsCandidates() [][2]float64 {
	points := make([][2]float64, 0, 9)
	points = append(points, intersections...)
	points = append(points, [2]float64{0.5, 0.5})
	for _, l := range thirdLines {
		points = append(points, [2]float64{l, 0.5})
	}
	for _, l := range thirdLines {
		points = append(points, [2]float64{0.5, l})
	}
	return points
}

func (a *RuleOfThirds) score(c Coordinates) scoredCandidate {
	cx, cy := c.CenterX(), c.CenterY()

	nearest := math.Inf(1)
	for _, p := range intersections {
		nearest = math.Min(nearest, distance(cx, cy, p[0], p[1]))
	}
	intersection := math.Max(0, 1-nearest*a.t.ThirdsIntersectionScale)

	grid := a.gridLineAlignment(c)
	dist := marginBalance(c)

	offset := distance(cx, cy, 0.5, 0.5)
	ideal := a.t.ThirdsIdealOffset
	edgeAvoidance := 0.0
	if ideal > 0 {
		edgeAvoidance = math.Max(0, 1-math.Abs(offset-ideal)/ideal)
	}

	value := weighted(
		a.t.ThirdsIntersectionWeight, intersection,
		a.t.ThirdsGridLineWeight, grid,
		a.t.ThirdsDistributionWeight, dist,
		a.t.ThirdsEdgeAvoidanceWeight, edgeAvoidance,
	)
	return evaluate(c, value, map[string]float64{
		"intersection_alignment": intersection,
		"grid_line_alignment":    grid,
		"content_distribution":   dist,
		"edge_avoidance":         edgeAvoidance,
	})
}

// gridLineAlignment averages, over the four third-lines, how close the nearest
// parallel crop edge is, decaying linearly to zero at the tolerance band.
func (a *RuleOfThirds) gridLineAlignment(c Coordinates) float64 {
	tol := a.t.ThirdsGridTolerance
	align := func(line, e1, e2 float64) float64 {
		d := math.Min(math.Abs(e1-line), math.Abs(e2-line))
		if tol <= 0 || d > tol {
			return 0
		}
		return 1 - d/tol
	}
	var sum float64
	for _, l := range thirdLines {
		sum += align(l, c.X, c.X+c.Width)
		sum += align(l, c.Y, c.Y+c.Height)
	}
	return sum / 4
}

// marginBalance rewards equal margins on opposite sides of the crop.
func marginBalance(c Coordinates) float64 {
	balance := func(a, b float64) float64 {
		a, b = math.Max(a, 0), math.Max(b, 0)
		if a+b <= epsilon {
			return 1
		}
		return 1 - math.Abs(a-b)/(a+b)
	}
	horizontal := balance(c.X, 1-c.X-c.Width)
	vertical := balance(c.Y, 1-c.Y-c.Height)
	return (horizontal + vertical) / 2
}
