package crop

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// maxEntropy is the Shannon entropy of a uniform 8-bit histogram, in nats.
var maxEntropy = math.Log(256)

// Entropy centers crops on information-dense regions of the image.
type Entropy struct {
	t TuningConfig
}

// NewEntropy creates the entropy analyzer.
func NewEntropy(t TuningConfig) *Entropy {
	return &Entropy{t: t}
}

func (a *Entropy) Strategy() Strategy     { return StrategyEntropy }
func (a *Entropy) Weight() float64        { return a.t.EntropyWeight }
func (a *Entropy) EnabledByDefault() bool { return true }
func (a *Entropy) MinConfidence() float64 { return a.t.EntropyMinConfidence }

// Analyze implements Analyzer.
func (a *Entropy) Analyze(src *Source, target Size, reach float64) (Score, error) {
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}
	radius := neighborhoodRadius(src, a.t.EntropyRadiusRatio)

	grid := max(a.t.EntropyGrid, 1)
	var centers [][2]float64
	for j := 0; j < grid; j++ {
		for i := 0; i < grid; i++ {
			nx := (float64(i) + 0.5) / float64(grid)
			ny := (float64(j) + 0.5) / float64(grid)
			if localEntropy(src, nx, ny, radius) > a.t.EntropyThreshold {
				centers = append(centers, [2]float64{nx, ny})
			}
		}
	}
	if len(centers) < 3 {
		centers = append(centers, standardPositions...)
	}

	cands := make([]scoredCandidate, 0, len(centers))
	for _, p := range centers {
		cx, cy := pullToCenter(p[0], p[1], reach)
		cands = append(cands, a.score(src, place(cx, cy, w, h), radius))
	}
	return finish(src, target, a.Strategy(), cands), nil
}

func (a *Entropy) score(src *Source, c Coordinates, radius int) scoredCandidate {
	sub := max(a.t.EntropySubGrid, 1)
	samples := make([]float64, 0, sub*sub)
	for j := 0; j < sub; j++ {
		for i := 0; i < sub; i++ {
			nx := c.X + (float64(i)+0.5)/float64(sub)*c.Width
			ny := c.Y + (float64(j)+0.5)/float64(sub)*c.Height
			samples = append(samples, localEntropy(src, nx, ny, radius))
		}
	}

	average, spread := meanStdDev(samples)
	variance := clamp(spread/0.25, 0, 1)

	_, lumStd := meanStdDev(lumSamples(src, c))
	density := clamp(lumStd/128, 0, 1)

	value := weighted(
		a.t.EntropyAverageWeight, average,
		a.t.EntropyVarianceWeight, variance,
		a.t.EntropyDensityWeight, density,
	)
	return evaluate(c, value, map[string]float64{
		"average_entropy":  average,
		"entropy_variance": variance,
		"content_density":  density,
	})
}

// neighborhoodRadius converts a ratio of the shorter thumbnail side into pixels.
func neighborhoodRadius(src *Source, ratio float64) int {
	tw, th := src.Bounds()
	r := int(math.Round(ratio * float64(min(tw, th))))
	return max(r, 2)
}

// localEntropy is the normalized Shannon entropy of luminance inside a circle
// of radius pixels centered at the normalized point (nx, ny).
func localEntropy(src *Source, nx, ny float64, radius int) float64 {
	var hist [256]float64
	var n float64
	forEachInCircle(src, nx, ny, radius, func(x, y int) {
		hist[src.Luminance(x, y)]++
		n++
	})
	if n == 0 {
		return 0
	}
	p := hist[:]
	for i := range p {
		p[i] /= n
	}
	return clamp(stat.Entropy(p)/maxEntropy, 0, 1)
}

// forEachInCircle visits every in-frame thumbnail pixel within radius of the
// normalized point (nx, ny).
func forEachInCircle(src *Source, nx, ny float64, radius int, fn func(x, y int)) {
	tw, th := src.Bounds()
	cx, cy := src.toPixel(nx, ny)
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		y := cy + dy
		if y < 0 || y >= th {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			x := cx + dx
			if x < 0 || x >= tw || dx*dx+dy*dy > r2 {
				continue
			}
			fn(x, y)
		}
	}
}

// maxRegionSamples bounds the number of pixels read per region statistic.
const maxRegionSamples = 4096

// regionStep returns the sampling stride for a pixel rectangle of the given area.
func regionStep(area int) int {
	if area <= maxRegionSamples {
		return 1
	}
	return int(math.Ceil(math.Sqrt(float64(area) / maxRegionSamples)))
}

// lumSamples reads luminance values inside the crop on a bounded lattice.
func lumSamples(src *Source, c Coordinates) []float64 {
	r := src.pixelRect(c)
	step := regionStep(r.Dx() * r.Dy())
	out := make([]float64, 0, (r.Dx()/step+1)*(r.Dy()/step+1))
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			out = append(out, float64(src.Luminance(x, y)))
		}
	}
	return out
}

// meanStdDev wraps stat.MeanStdDev, returning a zero deviation for fewer than two samples.
func meanStdDev(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	m, s := stat.MeanStdDev(xs, nil)
	if math.IsNaN(s) {
		s = 0
	}
	return m, s
}
