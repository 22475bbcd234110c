package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/signal"
)

// Momentum emits a directional signal from the recency-weighted average of
// recent bar-over-bar returns, the same weighted-sum-then-squash shape as
// the teacher's decision.fuse (internal/decision/engine.go), applied here
// per-asset over price momentum instead of per-headline over news scores.
type Momentum struct {
	Lookback   int     // number of trailing bars considered, default 10
	MinBars    int     // minimum bars required to emit a signal, default 3
	Confidence float64 // base confidence scale, default 0.7
}

// NewMomentum builds a Momentum strategy with spec.md-reasonable defaults.
func NewMomentum() *Momentum {
	return &Momentum{Lookback: 10, MinBars: 3, Confidence: 0.7}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Parameters() map[string]any {
	return map[string]any{"lookback": m.Lookback, "min_bars": m.MinBars, "confidence": m.Confidence}
}

type momentumAnalysis struct {
	scores  map[market.AssetId]momentumScore
	takenAt time.Time
}

type momentumScore struct {
	lastPrice float64
	weighted  float64 // recency-weighted directional score in [-1, 1]
}

func (m *Momentum) Analyze(ctx context.Context, snap market.MarketSnapshot) (Analysis, error) {
	lookback := m.Lookback
	if lookback <= 0 {
		lookback = 10
	}
	minBars := m.MinBars
	if minBars <= 0 {
		minBars = 3
	}

	scores := make(map[market.AssetId]momentumScore)
	for asset, bars := range snap.Bars {
		if len(bars) < minBars {
			continue
		}
		window := bars
		if len(window) > lookback {
			window = window[len(window)-lookback:]
		}

		var weightedReturn, weightTotal float64
		for i := 1; i < len(window); i++ {
			prev, cur := window[i-1].Close, window[i].Close
			if prev <= 0 {
				continue
			}
			ret := (cur - prev) / prev
			weight := float64(i) // more recent bars weigh more
			weightedReturn += ret * weight
			weightTotal += weight
		}
		if weightTotal == 0 {
			continue
		}
		avgReturn := weightedReturn / weightTotal
		scores[asset] = momentumScore{
			lastPrice: window[len(window)-1].Close,
			weighted:  squash(avgReturn * 50), // scale small returns into a usable range
		}
	}
	return momentumAnalysis{scores: scores, takenAt: snap.TakenAt}, nil
}

func (m *Momentum) GenerateSignals(ctx context.Context, analysis Analysis) ([]signal.TradingSignal, error) {
	a, ok := analysis.(momentumAnalysis)
	if !ok {
		return nil, fmt.Errorf("momentum: unexpected analysis type %T", analysis)
	}

	baseConfidence := m.Confidence
	if baseConfidence <= 0 {
		baseConfidence = 0.7
	}

	var out []signal.TradingSignal
	for asset, score := range a.scores {
		if score.weighted == 0 {
			continue
		}
		dir := signal.Long
		if score.weighted < 0 {
			dir = signal.Short
		}
		confidence := baseConfidence * abs(score.weighted)
		if confidence > 1 {
			confidence = 1
		}
		if confidence <= 0 {
			continue
		}
		sig, err := signal.New(m.Name(), asset, dir, score.lastPrice, confidence, a.takenAt)
		if err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func squash(x float64) float64 {
	// tanh squash, matching the teacher's fuse() bounding of an unbounded
	// weighted sum into [-1, 1].
	return math.Tanh(x)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
