package crop

import (
	"errors"
	"fmt"
	"image"
	"math"

	pigo "github.com/esimov/pigo/core"
)

var (
	// ErrNoDetector is returned by the face analyzer when no detector is loaded.
	ErrNoDetector = errors.New("face detector not loaded")
	// ErrNoFaces is returned when no face passes the confidence filter.
	ErrNoFaces = errors.New("no faces detected")
)

// Face is a detected face in normalized coordinates.
type Face struct {
	X, Y float64 // center
	Size float64 // diameter relative to the shorter image side
	Q    float64 // detector quality
}

// FaceDetector finds faces in an image.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]Face, error)
}

// PigoDetector detects faces with a pigo cascade.
type PigoDetector struct {
	classifier *pigo.Pigo
	t          TuningConfig
}

// NewPigoDetector unpacks a pigo cascade (e.g. the "facefinder" model).
func NewPigoDetector(cascade []byte, t TuningConfig) (*PigoDetector, error) {
	p := pigo.NewPigo()
	classifier, err := p.Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpacking face cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, t: t}, nil
}

// DetectFaces implements FaceDetector.
func (d *PigoDetector) DetectFaces(img image.Image) ([]Face, error) {
	b := img.Bounds()
	cols, rows := b.Max.X, b.Max.Y // RgbToGrayscale reads from the origin
	minDim := min(b.Dx(), b.Dy())
	if minDim <= 0 {
		return nil, ErrEmptyImage
	}
	minSize := max(minDim*d.t.FaceDetectMinSizePct/100, 20)
	if minSize > minDim {
		return nil, ErrNoFaces
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     minDim,
		ShiftFactor: d.t.FaceDetectShift,
		ScaleFactor: d.t.FaceScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.t.FaceIoUThreshold)

	var faces []Face
	for _, det := range dets {
		if float64(det.Q) < d.t.FaceDetectConfidence {
			continue
		}
		faces = append(faces, Face{
			X:    float64(det.Col) / float64(cols),
			Y:    float64(det.Row) / float64(rows),
			Size: float64(det.Scale) / float64(minDim),
			Q:    float64(det.Q),
		})
	}
	return faces, nil
}

// FaceCrop keeps detected faces inside the crop, weighted by detector quality.
type FaceCrop struct {
	t        TuningConfig
	detector FaceDetector
}

// NewFace creates the face analyzer. A nil detector makes every analysis fail
// with ErrNoDetector, which the aggregator treats as "no proposal".
func NewFace(t TuningConfig, detector FaceDetector) *FaceCrop {
	return &FaceCrop{t: t, detector: detector}
}

func (a *FaceCrop) Strategy() Strategy     { return StrategyFace }
func (a *FaceCrop) Weight() float64        { return a.t.FaceWeight }
func (a *FaceCrop) EnabledByDefault() bool { return false }
func (a *FaceCrop) MinConfidence() float64 { return a.t.FaceMinConfidence }

// Analyze implements Analyzer. Faces are never pulled inward, so reach is ignored.
func (a *FaceCrop) Analyze(src *Source, target Size, _ float64) (Score, error) {
	if a.detector == nil {
		return Score{}, ErrNoDetector
	}
	w, h, err := cropSize(src, target)
	if err != nil {
		return Score{}, err
	}
	faces, err := a.detector.DetectFaces(src.Thumbnail())
	if err != nil {
		return Score{}, fmt.Errorf("detecting faces: %w", err)
	}
	if len(faces) == 0 {
		return Score{}, ErrNoFaces
	}

	var sx, sy, sq float64
	for _, f := range faces {
		sx += f.X * f.Q
		sy += f.Y * f.Q
		sq += f.Q
	}
	centers := [][2]float64{}
	if sq > 0 {
		centers = append(centers, [2]float64{sx / sq, sy / sq})
	}
	for _, f := range faces {
		centers = append(centers, [2]float64{f.X, f.Y})
	}

	cands := make([]scoredCandidate, 0, len(centers))
	for _, p := range centers {
		cands = append(cands, a.score(place(p[0], p[1], w, h), faces))
	}
	return finish(src, target, a.Strategy(), cands), nil
}

func (a *FaceCrop) score(c Coordinates, faces []Face) scoredCandidate {
	var inside, total, cx, cy float64
	for _, f := range faces {
		total += f.Q
		if f.X >= c.X && f.X <= c.X+c.Width && f.Y >= c.Y && f.Y <= c.Y+c.Height {
			inside += f.Q
			cx += f.X * f.Q
			cy += f.Y * f.Q
		}
	}
	coverage := 0.0
	centering := 0.0
	if total > 0 {
		coverage = inside / total
	}
	if inside > 0 {
		// distance of the covered-face centroid from the crop center, relative to the half diagonal
		d := distance(cx/inside, cy/inside, c.CenterX(), c.CenterY())
		half := math.Hypot(c.Width, c.Height) / 2
		if half > 0 {
			centering = math.Max(0, 1-d/half)
		}
	}
	value := 0.7*coverage + 0.3*centering
	return evaluate(c, value, map[string]float64{
		"face_coverage":  coverage,
		"face_centering": centering,
		"faces":          float64(len(faces)),
	})
}
