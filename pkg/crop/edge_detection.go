package crop

import (
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blur"
	"gonum.org/v1/gonum/stat"
)

// hotspotRadiusRatio sizes the circular neighborhood used to measure edge density.
const hotspotRadiusRatio = 1.0 / 12

var (
	sobelX = [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY = [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
)

// EdgeDetection centers crops on regions with dense, evenly spread edges.
// It computes a full Sobel gradient and is disabled by default.
type EdgeDetection struct {
	t TuningConfig
}

// NewEdgeDetection creates the edge-detection analyzer.
func NewEdgeDetection(t TuningConfig) *EdgeDetection {
	return &EdgeDetection{t: t}
}

func (a *EdgeDetection) Strategy() Strategy     { return StrategyEdgeDetection }
func (a *EdgeDetection) Weight() float64        { return a.t.EdgeWeight }
func (a *EdgeDetection) EnabledByDefault() bool { return false }
func (a *EdgeDetection) MinConfidence() float64 { return a.t.EdgeMinConfidence }

// edgeMap is a per-pixel gradient magnitude normalized to [0, 255].
type edgeMap struct {
	w, h int
	mag  []float64
}

func (m *edgeMap) at(x, y int) float64 {
	return m.mag[clampInt(y, 0, m.h-1)*m.w+clampInt(x, 0, m.w-1)]
}

// Analyze implements Analyzer.
func (a *EdgeDetection) Analyze(src *Source, target Size, reach float64) (Score, error) {
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}
	edges := a.sobel(src)
	radius := neighborhoodRadius(src, hotspotRadiusRatio)

	type hotspot struct {
		x, y, density float64
	}
	grid := max(a.t.EdgeGrid, 1)
	var spots []hotspot
	for j := 0; j < grid; j++ {
		for i := 0; i < grid; i++ {
			nx := (float64(i) + 0.5) / float64(grid)
			ny := (float64(j) + 0.5) / float64(grid)
			d := edgeDensity(src, edges, nx, ny, radius)
			if d > a.t.EdgeDensityThreshold {
				spots = append(spots, hotspot{nx, ny, d})
			}
		}
	}
	sort.SliceStable(spots, func(i, j int) bool { return spots[i].density > spots[j].density })
	if len(spots) > a.t.EdgeHotspots {
		spots = spots[:a.t.EdgeHotspots]
	}

	centers := make([][2]float64, 0, len(spots)+len(standardPositions))
	for _, s := range spots {
		centers = append(centers, [2]float64{s.x, s.y})
	}
	if len(spots) < 3 {
		centers = append(centers, standardPositions...)
	}

	cands := make([]scoredCandidate, 0, len(centers))
	for _, p := range centers {
		cx, cy := pullToCenter(p[0], p[1], reach)
		cands = append(cands, a.score(src, edges, place(cx, cy, w, h)))
	}
	return finish(src, target, a.Strategy(), cands), nil
}

// sobel computes the gradient magnitude of the (optionally blurred) luminance.
func (a *EdgeDetection) sobel(src *Source) *edgeMap {
	tw, th := src.Bounds()
	gray := make([]float64, tw*th)
	if a.t.EdgeBlurRadius > 0 {
		blurred := blur.Gaussian(src.Thumbnail(), a.t.EdgeBlurRadius)
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				i := blurred.PixOffset(x, y)
				p := blurred.Pix[i : i+3 : i+3]
				gray[y*tw+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
			}
		}
	} else {
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				gray[y*tw+x] = float64(src.Luminance(x, y))
			}
		}
	}

	mag := make([]float64, tw*th)
	var peak float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				py := clampInt(y+ky, 0, th-1)
				for kx := -1; kx <= 1; kx++ {
					px := clampInt(x+kx, 0, tw-1)
					v := gray[py*tw+px]
					gx += v * sobelX[ky+1][kx+1]
					gy += v * sobelY[ky+1][kx+1]
				}
			}
			m := math.Sqrt(gx*gx + gy*gy)
			mag[y*tw+x] = m
			peak = math.Max(peak, m)
		}
	}
	if peak > 0 {
		for i := range mag {
			mag[i] = mag[i] / peak * 255
		}
	}
	return &edgeMap{w: tw, h: th, mag: mag}
}

// edgeDensity is the mean normalized magnitude inside a circle around (nx, ny).
func edgeDensity(src *Source, edges *edgeMap, nx, ny float64, radius int) float64 {
	var sum, n float64
	forEachInCircle(src, nx, ny, radius, func(x, y int) {
		sum += edges.at(x, y)
		n++
	})
	if n == 0 {
		return 0
	}
	return sum / n / 255
}

func (a *EdgeDetection) score(src *Source, edges *edgeMap, c Coordinates) scoredCandidate {
	r := src.pixelRect(c)
	step := regionStep(r.Dx() * r.Dy())
	midX := r.Min.X + r.Dx()/2
	midY := r.Min.Y + r.Dy()/2

	var sum, strong, n float64
	var quadSum, quadN [4]float64
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			m := edges.at(x, y)
			sum += m
			n++
			if m > a.t.EdgeStrongMagnitude {
				strong++
			}
			q := 0
			if x >= midX {
				q++
			}
			if y >= midY {
				q += 2
			}
			quadSum[q] += m
			quadN[q]++
		}
	}
	if n == 0 {
		return evaluate(c, 0, nil)
	}

	strength := sum / n / 255
	strongRatio := strong / n

	quads := make([]float64, 0, 4)
	for i := range quadSum {
		if quadN[i] > 0 {
			quads = append(quads, quadSum[i]/quadN[i]/255)
		}
	}
	distribution := 0.0
	if mean, variance := stat.PopMeanVariance(quads, nil); mean > 0 {
		distribution = math.Max(0, 1-math.Sqrt(variance)/mean)
	}

	value := weighted(
		a.t.EdgeStrengthWeight, strength,
		a.t.EdgeDistributionWeight, distribution,
		a.t.EdgeStrongRatioWeight, strongRatio,
	)
	return evaluate(c, value, map[string]float64{
		"average_edge_strength": strength,
		"edge_distribution":     distribution,
		"strong_edge_ratio":     strongRatio,
	})
}
