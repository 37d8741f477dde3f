package crop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	strategy Strategy
	weight   float64
	minConf  float64
	score    Score
	err      error
	panics   bool
}

func (s *stubAnalyzer) Strategy() Strategy     { return s.strategy }
func (s *stubAnalyzer) Weight() float64        { return s.weight }
func (s *stubAnalyzer) EnabledByDefault() bool { return true }
func (s *stubAnalyzer) MinConfidence() float64 { return s.minConf }

func (s *stubAnalyzer) Analyze(*Source, Size, float64) (Score, error) {
	if s.panics {
		panic("stub failure")
	}
	return s.score, s.err
}

func stubScore(cx, value, confidence float64, strategy Strategy) Score {
	c := place(cx, 0.5, 0.5, 1)
	c.Confidence = confidence
	c.Strategy = strategy
	return Score{Coordinates: c, Value: value, Strategy: strategy}
}

func squareSource(t *testing.T) *Source {
	return newSource(t, uniformImage(200, 200, 128), 0)
}

func TestAggregatorSingleAnalyzerMatchesItsOwnResult(t *testing.T) {
	tuning := DefaultTuningConfig()
	src := newSource(t, uniformImage(1000, 1000, 128), 256)
	target := Size{500, 1000}

	agg := NewAggregator(tuning)
	settings := DefaultSettings().Only(StrategyRuleOfThirds)
	decision, err := agg.Decide(context.Background(), src, target, settings)
	require.NoError(t, err)
	require.False(t, decision.Fallback)

	own, err := NewRuleOfThirds(tuning).Analyze(src, target, settings.Aggressiveness.Reach())
	require.NoError(t, err)

	got, want := decision.Coordinates, own.Coordinates
	assert.Equal(t, want.X, got.X)
	assert.Equal(t, want.Y, got.Y)
	assert.Equal(t, want.Width, got.Width)
	assert.Equal(t, want.Height, got.Height)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-12)
	assert.Equal(t, StrategyRuleOfThirds, got.Strategy)
	assert.Len(t, decision.Proposals, 1)
}

func TestAggregatorFallback(t *testing.T) {
	src := squareSource(t)
	target := Size{1920, 1080}

	t.Run("nothing enabled", func(t *testing.T) {
		decision, err := NewAggregator(DefaultTuningConfig()).Decide(context.Background(), src, target, Settings{})
		require.NoError(t, err)
		assert.True(t, decision.Fallback)
		assert.Equal(t, StrategyFallback, decision.Coordinates.Strategy)
		assert.Equal(t, 0.1, decision.Coordinates.Confidence)
		assert.InDelta(t, 0.5, decision.Coordinates.CenterY(), 1e-9)
		assert.True(t, decision.Coordinates.Valid())
	})

	t.Run("every analyzer fails", func(t *testing.T) {
		agg := NewAggregator(DefaultTuningConfig(),
			&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.6, err: errors.New("decode")},
			&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.8, panics: true},
		)
		decision, err := agg.Decide(context.Background(), src, target, DefaultSettings())
		require.NoError(t, err)
		assert.True(t, decision.Fallback)
		assert.Equal(t, StrategyFallback, decision.Coordinates.Strategy)
		assert.Empty(t, decision.Proposals)
	})
}

func TestAggregatorSkipsFailures(t *testing.T) {
	agg := NewAggregator(DefaultTuningConfig(),
		&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.6, err: errors.New("bad pixels")},
		&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.8, panics: true},
		&stubAnalyzer{strategy: StrategyEntropy, weight: 0.7, score: stubScore(0.3, 0.2, 0.2, StrategyEntropy)},
		&stubAnalyzer{strategy: StrategyEdgeDetection, weight: 0.65,
			score: Score{Coordinates: Coordinates{X: 0.8, Width: 0.5, Height: 1, Confidence: 1}, Value: 1}},
	)
	settings := DefaultSettings()
	settings.EdgeDetection = true

	decision, err := agg.Decide(context.Background(), squareSource(t), Size{100, 200}, settings)
	require.NoError(t, err)
	assert.False(t, decision.Fallback)
	assert.Equal(t, StrategyEntropy, decision.Coordinates.Strategy)
	assert.Len(t, decision.Proposals, 1)
}

func TestAggregatorWeightedSelection(t *testing.T) {
	agg := NewAggregator(DefaultTuningConfig(),
		&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.6, score: stubScore(0.5, 0.9, 0.9, StrategyCenterWeighted)},
		&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.4, score: stubScore(0.3, 1.0, 1.0, StrategyRuleOfThirds)},
	)
	decision, err := agg.Decide(context.Background(), squareSource(t), Size{100, 200}, DefaultSettings())
	require.NoError(t, err)

	// 0.9*0.6 beats 1.0*0.4; confidence is scaled by 0.6/(0.6+0.4).
	assert.Equal(t, StrategyCenterWeighted, decision.Coordinates.Strategy)
	assert.InDelta(t, 0.54, decision.Coordinates.Confidence, 1e-9)
	assert.InDelta(t, 0.5, decision.Coordinates.CenterX(), 1e-9)
	assert.Len(t, decision.Proposals, 2)
}

func TestAggregatorTieBreak(t *testing.T) {
	src := squareSource(t)
	target := Size{100, 200}

	t.Run("trusted beats low-trust", func(t *testing.T) {
		agg := NewAggregator(DefaultTuningConfig(),
			&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.5, minConf: 0.9, score: stubScore(0.3, 0.8, 0.8, StrategyCenterWeighted)},
			&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.8, minConf: 0.3, score: stubScore(0.7, 0.5, 0.5, StrategyRuleOfThirds)},
		)
		decision, err := agg.Decide(context.Background(), src, target, DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, StrategyRuleOfThirds, decision.Coordinates.Strategy)
	})

	t.Run("higher confidence", func(t *testing.T) {
		agg := NewAggregator(DefaultTuningConfig(),
			&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.5, score: stubScore(0.3, 0.6, 0.4, StrategyCenterWeighted)},
			&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.5, score: stubScore(0.7, 0.6, 0.6, StrategyRuleOfThirds)},
		)
		decision, err := agg.Decide(context.Background(), src, target, DefaultSettings())
		require.NoError(t, err)
		assert.Equal(t, StrategyRuleOfThirds, decision.Coordinates.Strategy)
	})

	t.Run("registration order", func(t *testing.T) {
		agg := NewAggregator(DefaultTuningConfig(),
			&stubAnalyzer{strategy: StrategyEntropy, weight: 0.5, score: stubScore(0.3, 0.6, 0.6, StrategyEntropy)},
			&stubAnalyzer{strategy: StrategyCenterWeighted, weight: 0.5, score: stubScore(0.7, 0.6, 0.6, StrategyCenterWeighted)},
			&stubAnalyzer{strategy: StrategyRuleOfThirds, weight: 0.5, score: stubScore(0.5, 0.6, 0.6, StrategyRuleOfThirds)},
		)
		for i := 0; i < 20; i++ {
			decision, err := agg.Decide(context.Background(), src, target, DefaultSettings())
			require.NoError(t, err)
			assert.Equal(t, StrategyEntropy, decision.Coordinates.Strategy)
		}
	})
}

func TestAggregatorValidation(t *testing.T) {
	agg := NewAggregator(DefaultTuningConfig())
	_, err := agg.Decide(context.Background(), squareSource(t), Size{0, 100}, DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidTargetSize)

	_, err = agg.Decide(context.Background(), nil, Size{100, 100}, DefaultSettings())
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestAggregatorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(DefaultTuningConfig()).Decide(ctx, squareSource(t), Size{100, 100}, DefaultSettings())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregatorDefaultsStayInBounds(t *testing.T) {
	settings := DefaultSettings()
	settings.EdgeDetection = true
	settings.Smartcrop = true
	agg := NewAggregator(DefaultTuningConfig())
	src := newSource(t, gradientImage(640, 360), 256)
	for _, target := range []Size{{1920, 1080}, {1080, 1920}, {100, 100}, {3440, 1440}} {
		decision, err := agg.Decide(context.Background(), src, target, settings)
		require.NoError(t, err)
		assert.True(t, decision.Coordinates.Valid(), "%s: %+v", target, decision.Coordinates)
	}
}
