package crop

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// TuningConfig holds the empirical weights and thresholds used by the analyzers.
// The defaults are the documented values; they are kept here so they can be
// overridden from the application config without touching the formulas.
type TuningConfig struct {
	// Snapshot
	AnalysisMaxDim int `json:"analysis_max_dim"` // Default: 256 (thumbnail longest side)

	// Aggregation
	MaxParallelAnalyzers int     `json:"max_parallel_analyzers"` // Default: 4
	FallbackConfidence   float64 `json:"fallback_confidence"`    // Default: 0.1

	// Center-weighted
	CenterWeight           float64 `json:"center_weight"`             // Default: 0.6
	CenterDistanceWeight   float64 `json:"center_distance_weight"`    // Default: 0.4
	CenterContentWeight    float64 `json:"center_content_weight"`     // Default: 0.3
	CenterEdgeSafetyWeight float64 `json:"center_edge_safety_weight"` // Default: 0.2
	CenterAspectWeight     float64 `json:"center_aspect_weight"`      // Default: 0.1
	EdgeSafetyThreshold    float64 `json:"edge_safety_threshold"`     // Default: 0.05
	CenterMinConfidence    float64 `json:"center_min_confidence"`     // Default: 0.3

	// Rule of thirds
	ThirdsWeight              float64 `json:"thirds_weight"`                // Default: 0.8
	ThirdsIntersectionWeight  float64 `json:"thirds_intersection_weight"`   // Default: 0.4
	ThirdsGridLineWeight      float64 `json:"thirds_grid_line_weight"`      // Default: 0.3
	ThirdsDistributionWeight  float64 `json:"thirds_distribution_weight"`   // Default: 0.2
	ThirdsEdgeAvoidanceWeight float64 `json:"thirds_edge_avoidance_weight"` // Default: 0.1
	ThirdsIntersectionScale   float64 `json:"thirds_intersection_scale"`    // Default: 2.0
	ThirdsGridTolerance       float64 `json:"thirds_grid_tolerance"`        // Default: 0.05
	ThirdsIdealOffset         float64 `json:"thirds_ideal_offset"`          // Default: 0.15
	ThirdsMinConfidence       float64 `json:"thirds_min_confidence"`        // Default: 0.4

	// Entropy
	EntropyWeight         float64 `json:"entropy_weight"`          // Default: 0.7
	EntropyAverageWeight  float64 `json:"entropy_average_weight"`  // Default: 0.6
	EntropyVarianceWeight float64 `json:"entropy_variance_weight"` // Default: 0.25
	EntropyDensityWeight  float64 `json:"entropy_density_weight"`  // Default: 0.15
	EntropyGrid           int     `json:"entropy_grid"`            // Default: 8
	EntropySubGrid        int     `json:"entropy_sub_grid"`        // Default: 4
	EntropyThreshold      float64 `json:"entropy_threshold"`       // Default: 0.3
	EntropyRadiusRatio    float64 `json:"entropy_radius_ratio"`    // Default: 0.05
	EntropyMinConfidence  float64 `json:"entropy_min_confidence"`  // Default: 0.35

	// Edge detection
	EdgeWeight             float64 `json:"edge_weight"`              // Default: 0.65
	EdgeStrengthWeight     float64 `json:"edge_strength_weight"`     // Default: 0.5
	EdgeDistributionWeight float64 `json:"edge_distribution_weight"` // Default: 0.3
	EdgeStrongRatioWeight  float64 `json:"edge_strong_ratio_weight"` // Default: 0.2
	EdgeGrid               int     `json:"edge_grid"`                // Default: 6
	EdgeHotspots           int     `json:"edge_hotspots"`            // Default: 8
	EdgeDensityThreshold   float64 `json:"edge_density_threshold"`   // Default: 0.1
	EdgeStrongMagnitude    float64 `json:"edge_strong_magnitude"`    // Default: 128
	EdgeBlurRadius         float64 `json:"edge_blur_radius"`         // Default: 1.0 (0 disables)
	EdgeMinConfidence      float64 `json:"edge_min_confidence"`      // Default: 0.3

	// Smartcrop
	SmartcropWeight        float64 `json:"smartcrop_weight"`         // Default: 0.5
	SmartcropBaseScore     float64 `json:"smartcrop_base_score"`     // Default: 0.6
	SmartcropMinConfidence float64 `json:"smartcrop_min_confidence"` // Default: 0.3

	// Face detection (pigo)
	FaceWeight           float64 `json:"face_weight"`              // Default: 0.9
	FaceIoUThreshold     float64 `json:"face_iou_threshold"`       // Default: 0.2 (Clustering)
	FaceScaleFactor      float64 `json:"face_scale_factor"`        // Default: 1.1 (pigo internal)
	FaceDetectConfidence float64 `json:"face_detect_confidence"`   // Default: 10.0 (Base filter)
	FaceDetectMinSizePct int     `json:"face_detect_min_size_pct"` // Default: 5 (% of min dim)
	FaceDetectShift      float64 `json:"face_detect_shift"`        // Default: 0.1 (Stride)
	FaceMinConfidence    float64 `json:"face_min_confidence"`      // Default: 0.5
}

// DefaultTuningConfig returns the documented defaults.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		AnalysisMaxDim:       256,
		MaxParallelAnalyzers: 4,
		FallbackConfidence:   0.1,

		CenterWeight:           0.6,
		CenterDistanceWeight:   0.4,
		CenterContentWeight:    0.3,
		CenterEdgeSafetyWeight: 0.2,
		CenterAspectWeight:     0.1,
		EdgeSafetyThreshold:    0.05,
		CenterMinConfidence:    0.3,

		ThirdsWeight:              0.8,
		ThirdsIntersectionWeight:  0.4,
		ThirdsGridLineWeight:      0.3,
		ThirdsDistributionWeight:  0.2,
		ThirdsEdgeAvoidanceWeight: 0.1,
		ThirdsIntersectionScale:   2.0,
		ThirdsGridTolerance:       0.05,
		ThirdsIdealOffset:         0.15,
		ThirdsMinConfidence:       0.4,

		EntropyWeight:         0.7,
		EntropyAverageWeight:  0.6,
		EntropyVarianceWeight: 0.25,
		EntropyDensityWeight:  0.15,
		EntropyGrid:           8,
		EntropySubGrid:        4,
		EntropyThreshold:      0.3,
		EntropyRadiusRatio:    0.05,
		EntropyMinConfidence:  0.35,

		EdgeWeight:             0.65,
		EdgeStrengthWeight:     0.5,
		EdgeDistributionWeight: 0.3,
		EdgeStrongRatioWeight:  0.2,
		EdgeGrid:               6,
		EdgeHotspots:           8,
		EdgeDensityThreshold:   0.1,
		EdgeStrongMagnitude:    128,
		EdgeBlurRadius:         1.0,
		EdgeMinConfidence:      0.3,

		SmartcropWeight:        0.5,
		SmartcropBaseScore:     0.6,
		SmartcropMinConfidence: 0.3,

		FaceWeight:           0.9,
		FaceIoUThreshold:     0.2,
		FaceScaleFactor:      1.1,
		FaceDetectConfidence: 10.0,
		FaceDetectMinSizePct: 5,
		FaceDetectShift:      0.1,
		FaceMinConfidence:    0.5,
	}
}

// ParseTuning applies a partial JSON override on top of the defaults.
// Fields missing from raw keep their default values.
func ParseTuning(raw []byte) (TuningConfig, error) {
	t := DefaultTuningConfig()
	if len(raw) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return TuningConfig{}, fmt.Errorf("parsing tuning overrides: %w", err)
	}
	return t, nil
}

// Fingerprint identifies the tuning values. Crops computed under different
// tuning get different fingerprints and so never share cache entries.
func (t TuningConfig) Fingerprint() string {
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
