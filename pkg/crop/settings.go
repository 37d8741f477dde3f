package crop

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// settingsVersion is bumped whenever the canonical encoding changes so that
// cache keys derived from older encodings stop matching.
const settingsVersion = "v1"

// Aggressiveness controls how far crops may drift away from the image center.
type Aggressiveness int

// Aggressiveness levels
const (
	Conservative Aggressiveness = iota
	Balanced
	Aggressive
)

// String returns the string representation of an Aggressiveness.
func (a Aggressiveness) String() string {
	switch a {
	case Conservative:
		return "Conservative"
	case Balanced:
		return "Balanced"
	case Aggressive:
		return "Aggressive"
	default:
		return "Unknown"
	}
}

// Reach returns the drift multiplier for the level. Unknown levels behave as Balanced.
func (a Aggressiveness) Reach() float64 {
	switch a {
	case Conservative:
		return 0.5
	case Aggressive:
		return 1.5
	default:
		return 1.0
	}
}

// Score is one analyzer's best proposal.
type Score struct {
	Coordinates Coordinates        `json:"coordinates"`
	Value       float64            `json:"score"`
	Strategy    Strategy           `json:"strategy"`
	Metrics     map[string]float64 `json:"metrics,omitempty"` // diagnostics only
}

// Settings selects which analyzers run and how aggressively they crop.
// It is a plain value; copies never share state.
type Settings struct {
	CenterWeighted bool           `json:"center_weighted"`
	RuleOfThirds   bool           `json:"rule_of_thirds"`
	Entropy        bool           `json:"entropy"`
	EdgeDetection  bool           `json:"edge_detection"`
	Smartcrop      bool           `json:"smartcrop"`
	FaceDetection  bool           `json:"face_detection"`
	Aggressiveness Aggressiveness `json:"aggressiveness"`
}

// DefaultSettings enables every analyzer that is enabled by default.
func DefaultSettings() Settings {
	return Settings{
		CenterWeighted: true,
		RuleOfThirds:   true,
		Entropy:        true,
		Aggressiveness: Balanced,
	}
}

// Enabled reports whether the analyzer with the given strategy is switched on.
func (s Settings) Enabled(strategy Strategy) bool {
	switch strategy {
	case StrategyCenterWeighted:
		return s.CenterWeighted
	case StrategyRuleOfThirds:
		return s.RuleOfThirds
	case StrategyEntropy:
		return s.Entropy
	case StrategyEdgeDetection:
		return s.EdgeDetection
	case StrategySmartcrop:
		return s.Smartcrop
	case StrategyFace:
		return s.FaceDetection
	default:
		return false
	}
}

// Only returns settings with just the given strategies enabled and the same aggressiveness.
func (s Settings) Only(strategies ...Strategy) Settings {
	out := Settings{Aggressiveness: s.Aggressiveness}
	for _, st := range strategies {
		switch st {
		case StrategyCenterWeighted:
			out.CenterWeighted = true
		case StrategyRuleOfThirds:
			out.RuleOfThirds = true
		case StrategyEntropy:
			out.Entropy = true
		case StrategyEdgeDetection:
			out.EdgeDetection = true
		case StrategySmartcrop:
			out.Smartcrop = true
		case StrategyFace:
			out.FaceDetection = true
		}
	}
	return out
}

// Canonical returns the fixed-order encoding used for hashing.
func (s Settings) Canonical() []byte {
	var b strings.Builder
	b.WriteString(settingsVersion)
	fmt.Fprintf(&b, ";aggr=%d", int(s.Aggressiveness))
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"center", s.CenterWeighted},
		{"thirds", s.RuleOfThirds},
		{"entropy", s.Entropy},
		{"edge", s.EdgeDetection},
		{"smartcrop", s.Smartcrop},
		{"face", s.FaceDetection},
	} {
		v := 0
		if f.on {
			v = 1
		}
		fmt.Fprintf(&b, ";%s=%d", f.name, v)
	}
	return []byte(b.String())
}

// Hash returns the hex SHA-256 digest of the canonical encoding.
func (s Settings) Hash() string {
	sum := sha256.Sum256(s.Canonical())
	return hex.EncodeToString(sum[:])
}
