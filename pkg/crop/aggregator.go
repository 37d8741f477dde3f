package crop

import (
	"context"
	"fmt"
	"math"

	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"golang.org/x/sync/errgroup"
)

// Decision is the aggregated outcome of one crop analysis.
type Decision struct {
	Coordinates Coordinates `json:"coordinates"`
	Proposals   []Score     `json:"proposals,omitempty"`
	Fallback    bool        `json:"fallback"`
}

// Aggregator runs the enabled analyzers and selects one crop from their proposals.
type Aggregator struct {
	tuning    TuningConfig
	analyzers []Analyzer
}

// NewAggregator creates an aggregator over analyzers in registration order.
// With no analyzers the built-ins are used, without a face detector.
func NewAggregator(t TuningConfig, analyzers ...Analyzer) *Aggregator {
	if len(analyzers) == 0 {
		analyzers = DefaultAnalyzers(t, nil)
	}
	return &Aggregator{tuning: t, analyzers: analyzers}
}

// Analyzers returns the registered analyzers in registration order.
func (a *Aggregator) Analyzers() []Analyzer {
	out := make([]Analyzer, len(a.analyzers))
	copy(out, a.analyzers)
	return out
}

// Fallback returns the low-confidence center crop used when no analyzer produced a proposal.
func (a *Aggregator) Fallback(src *Source, target Size) Coordinates {
	return CenterCrop(src.Size(), target, a.tuning.FallbackConfidence, StrategyFallback)
}

type proposal struct {
	order    int
	analyzer Analyzer
	score    Score
}

// Decide analyzes src for target with the analyzers enabled in settings.
// Analyzer failures are logged and skipped; if none succeed the center crop is
// returned with Fallback set.
func (a *Aggregator) Decide(ctx context.Context, src *Source, target Size, settings Settings) (Decision, error) {
	if err := target.Validate(); err != nil {
		return Decision{}, err
	}
	if src == nil {
		return Decision{}, ErrEmptyImage
	}

	var enabled []Analyzer
	var totalWeight float64
	for _, an := range a.analyzers {
		if settings.Enabled(an.Strategy()) {
			enabled = append(enabled, an)
			totalWeight += an.Weight()
		}
	}

	results := make([]*proposal, len(enabled))
	reach := settings.Aggressiveness.Reach()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.tuning.MaxParallelAnalyzers, 1))
	for i, an := range enabled {
		i, an := i, an
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			score, err := runAnalyzer(an, src, target, reach)
			if err != nil {
				log.Printf("Analyzer %s failed: %v", an.Strategy(), err)
				return nil
			}
			if !score.Coordinates.Valid() || math.IsNaN(score.Value) || math.IsInf(score.Value, 0) {
				log.Printf("Analyzer %s returned an invalid proposal: %+v", an.Strategy(), score.Coordinates)
				return nil
			}
			results[i] = &proposal{order: i, analyzer: an, score: score}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	var best *proposal
	proposals := make([]Score, 0, len(results))
	for _, p := range results {
		if p == nil {
			continue
		}
		proposals = append(proposals, p.score)
		if best == nil || better(p, best) {
			best = p
		}
	}

	if best == nil {
		log.Debugf("No analyzer proposal for %s, using center fallback", target)
		return Decision{Coordinates: a.Fallback(src, target), Proposals: proposals, Fallback: true}, nil
	}

	coords := best.score.Coordinates
	coords.Strategy = best.analyzer.Strategy()
	if totalWeight > 0 {
		coords.Confidence = clamp(coords.Confidence*best.analyzer.Weight()/totalWeight, 0, 1)
	}
	log.Debugf("Crop for %s decided by %s (score %.3f, confidence %.3f)",
		target, coords.Strategy, best.score.Value, coords.Confidence)
	return Decision{Coordinates: coords, Proposals: proposals}, nil
}

// better reports whether p beats q. Higher weighted score wins; ties go to the
// trusted proposal, then to the higher raw confidence, then to the earlier analyzer.
func better(p, q *proposal) bool {
	pe := p.score.Value * p.analyzer.Weight()
	qe := q.score.Value * q.analyzer.Weight()
	if pe != qe {
		return pe > qe
	}
	pt := p.score.Coordinates.Confidence >= p.analyzer.MinConfidence()
	qt := q.score.Coordinates.Confidence >= q.analyzer.MinConfidence()
	if pt != qt {
		return pt
	}
	if pc, qc := p.score.Coordinates.Confidence, q.score.Coordinates.Confidence; pc != qc {
		return pc > qc
	}
	return p.order < q.order
}

// runAnalyzer calls an analyzer, converting a panic into an error.
func runAnalyzer(an Analyzer, src *Source, target Size, reach float64) (score Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return an.Analyze(src, target, reach)
}
