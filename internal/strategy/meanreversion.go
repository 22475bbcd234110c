package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/signal"
)

// MeanReversion flags assets trading far from their recent rolling mean
// (z-score) as reversion candidates, and reports a VolatilitySpike when the
// latest bar-to-bar return, measured against the window's return
// volatility, reaches a percentile threshold. The volatility estimate is grounded on the teacher's
// EWMA-based VolatilityCalculator (internal/risk/volatility.go), simplified
// to a plain rolling standard deviation since this strategy has no
// standing position history to condition on.
type MeanReversion struct {
	Window             int     // trailing bars considered, default 20
	ZScoreThreshold    float64 // |z| above this emits a signal, default 1.5
	VolatilityPercentile float64 // spike threshold, default 0.95
	Confidence         float64 // base confidence scale, default 0.6
}

// NewMeanReversion builds a MeanReversion strategy with spec.md-reasonable
// defaults.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{Window: 20, ZScoreThreshold: 1.5, VolatilityPercentile: 0.95, Confidence: 0.6}
}

func (m *MeanReversion) Name() string { return "mean_reversion" }

func (m *MeanReversion) Parameters() map[string]any {
	return map[string]any{
		"window":               m.Window,
		"z_score_threshold":    m.ZScoreThreshold,
		"volatility_percentile": m.VolatilityPercentile,
		"confidence":           m.Confidence,
	}
}

type reversionPoint struct {
	lastPrice  float64
	zScore     float64
	volatility float64
	percentile float64
}

type reversionAnalysis struct {
	points  map[market.AssetId]reversionPoint
	takenAt time.Time
	threshold float64
}

func (m *MeanReversion) Analyze(ctx context.Context, snap market.MarketSnapshot) (Analysis, error) {
	window := m.Window
	if window <= 0 {
		window = 20
	}

	points := make(map[market.AssetId]reversionPoint)
	for asset, bars := range snap.Bars {
		if len(bars) < 3 {
			continue
		}
		w := bars
		if len(w) > window {
			w = w[len(w)-window:]
		}

		closes := make([]float64, len(w))
		for i, b := range w {
			closes[i] = b.Close
		}
		mean := meanOf(closes)
		stddev := stddevOf(closes, mean)
		last := closes[len(closes)-1]

		var z float64
		if stddev > 0 {
			z = (last - mean) / stddev
		}

		returns := make([]float64, 0, len(w)-1)
		for i := 1; i < len(w); i++ {
			if w[i-1].Close <= 0 {
				continue
			}
			returns = append(returns, (w[i].Close-w[i-1].Close)/w[i-1].Close)
		}
		retMean := meanOf(returns)
		vol := stddevOf(returns, retMean)

		points[asset] = reversionPoint{
			lastPrice:  last,
			zScore:     z,
			volatility: vol,
			percentile: percentileRank(returns, retMean, vol),
		}
	}

	return reversionAnalysis{points: points, takenAt: snap.TakenAt, threshold: m.thresholdOrDefault()}, nil
}

func (m *MeanReversion) thresholdOrDefault() float64 {
	if m.VolatilityPercentile <= 0 {
		return 0.95
	}
	return m.VolatilityPercentile
}

func (m *MeanReversion) GenerateSignals(ctx context.Context, analysis Analysis) ([]signal.TradingSignal, error) {
	a, ok := analysis.(reversionAnalysis)
	if !ok {
		return nil, fmt.Errorf("mean_reversion: unexpected analysis type %T", analysis)
	}

	threshold := m.ZScoreThreshold
	if threshold <= 0 {
		threshold = 1.5
	}
	baseConfidence := m.Confidence
	if baseConfidence <= 0 {
		baseConfidence = 0.6
	}

	var out []signal.TradingSignal
	for asset, p := range a.points {
		if math.Abs(p.zScore) < threshold {
			continue
		}
		// Price far above the mean reverts down (SHORT); far below reverts
		// up (LONG).
		dir := signal.Long
		if p.zScore > 0 {
			dir = signal.Short
		}
		confidence := baseConfidence * math.Min(math.Abs(p.zScore)/(threshold*2), 1)
		if confidence <= 0 {
			continue
		}
		sig, err := signal.New(m.Name(), asset, dir, p.lastPrice, confidence, a.takenAt)
		if err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// VolatilitySpikes implements the harness's optional no-argument spike
// capability (spec.md §4.8); see the comment on that capability in
// strategy.go.
func (a reversionAnalysis) VolatilitySpikes() []VolatilitySpike {
	var spikes []VolatilitySpike
	for asset, p := range a.points {
		if p.percentile < a.threshold {
			continue
		}
		spikes = append(spikes, VolatilitySpike{
			AssetId:           asset,
			Price:             p.lastPrice,
			Volatility:        p.volatility,
			Percentile:        p.percentile,
			ThresholdExceeded: a.threshold,
		})
	}
	return spikes
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// percentileRank estimates the fraction of a standard normal distribution
// lying within ±|z| of the mean, where z is the most recent return's
// z-score, as a cheap proxy for "this period's volatility move is more
// extreme than P% of typical moves".
func percentileRank(returns []float64, mean, stddev float64) float64 {
	if len(returns) == 0 || stddev == 0 {
		return 0
	}
	last := returns[len(returns)-1]
	z := math.Abs(last-mean) / stddev
	// Two-sided standard normal mass within ±z: erf(z/√2).
	return math.Erf(z / math.Sqrt2)
}
