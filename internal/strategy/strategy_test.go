package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/signal"
)

func barsRising(id market.AssetId, n int, start, step float64) []market.OHLCVBar {
	out := make([]market.OHLCVBar, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = market.OHLCVBar{AssetId: id, Timestamp: int64(i), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10}
		price += step
	}
	return out
}

func TestRegistry_EnabledPreservesOrderAndSkipsUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMomentum())
	r.Register(NewMeanReversion())

	out := r.Enabled([]string{"mean_reversion", "nonexistent", "momentum"})

	require.Len(t, out, 2)
	assert.Equal(t, "mean_reversion", out[0].Name())
	assert.Equal(t, "momentum", out[1].Name())
}

// panicStrategy always panics from Analyze, to exercise the harness's
// per-strategy panic isolation.
type panicStrategy struct{}

func (panicStrategy) Name() string { return "panicker" }
func (panicStrategy) Analyze(context.Context, market.MarketSnapshot) (Analysis, error) {
	panic("boom")
}
func (panicStrategy) GenerateSignals(context.Context, Analysis) ([]signal.TradingSignal, error) {
	return nil, nil
}
func (panicStrategy) Parameters() map[string]any { return nil }

// slowStrategy blocks past its deadline.
type slowStrategy struct{ delay time.Duration }

func (s slowStrategy) Name() string { return "slow" }
func (s slowStrategy) Analyze(ctx context.Context, _ market.MarketSnapshot) (Analysis, error) {
	select {
	case <-time.After(s.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (s slowStrategy) GenerateSignals(context.Context, Analysis) ([]signal.TradingSignal, error) {
	return nil, nil
}
func (s slowStrategy) Parameters() map[string]any { return nil }

// erroringStrategy always fails Analyze.
type erroringStrategy struct{}

func (erroringStrategy) Name() string { return "erroring" }
func (erroringStrategy) Analyze(context.Context, market.MarketSnapshot) (Analysis, error) {
	return nil, fmt.Errorf("analysis failed")
}
func (erroringStrategy) GenerateSignals(context.Context, Analysis) ([]signal.TradingSignal, error) {
	return nil, nil
}
func (erroringStrategy) Parameters() map[string]any { return nil }

func TestHarness_IsolatesPanicsAndErrorsFromOtherStrategies(t *testing.T) {
	h := NewHarness(nil)
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 10, 100, 1),
	}}

	results := h.Run(context.Background(), []Strategy{panicStrategy{}, erroringStrategy{}, NewMomentum()}, snap)

	require.Len(t, results, 3)
	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.NotEmpty(t, results[2].Signals)
}

func TestHarness_EnforcesPerStrategyDeadline(t *testing.T) {
	h := &Harness{Pool: 2, Deadline: 20 * time.Millisecond}
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0)}

	results := h.Run(context.Background(), []Strategy{slowStrategy{delay: 200 * time.Millisecond}}, snap)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestHarness_BoundsConcurrencyButRunsAll(t *testing.T) {
	h := &Harness{Pool: 1, Deadline: time.Second}
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 10, 100, 1),
	}}
	strategies := []Strategy{NewMomentum(), NewMeanReversion()}

	results := h.Run(context.Background(), strategies, snap)

	require.Len(t, results, 2)
	assert.Equal(t, "momentum", results[0].Strategy)
	assert.Equal(t, "mean_reversion", results[1].Strategy)
}

func TestMomentum_RisingPricesProduceLongSignal(t *testing.T) {
	m := NewMomentum()
	snap := market.MarketSnapshot{TakenAt: time.Unix(500, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 10, 100, 2),
	}}

	analysis, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)
	signals, err := m.GenerateSignals(context.Background(), analysis)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, signal.Long, signals[0].Direction)
	assert.Equal(t, market.AssetId("bitcoin"), signals[0].AssetId)
	assert.Equal(t, snap.TakenAt, signals[0].ProducedAt)
}

func TestMomentum_FallingPricesProduceShortSignal(t *testing.T) {
	m := NewMomentum()
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 10, 200, -2),
	}}

	analysis, _ := m.Analyze(context.Background(), snap)
	signals, _ := m.GenerateSignals(context.Background(), analysis)

	require.Len(t, signals, 1)
	assert.Equal(t, signal.Short, signals[0].Direction)
}

func TestMomentum_TooFewBarsEmitsNothing(t *testing.T) {
	m := NewMomentum()
	snap := market.MarketSnapshot{Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 2, 100, 1),
	}}

	analysis, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)
	signals, err := m.GenerateSignals(context.Background(), analysis)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMomentum_DeterministicGivenFixedSnapshot(t *testing.T) {
	m := NewMomentum()
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"bitcoin": barsRising("bitcoin", 10, 100, 3),
	}}

	a1, _ := m.Analyze(context.Background(), snap)
	s1, _ := m.GenerateSignals(context.Background(), a1)
	a2, _ := m.Analyze(context.Background(), snap)
	s2, _ := m.GenerateSignals(context.Background(), a2)

	require.Len(t, s1, 1)
	require.Len(t, s2, 1)
	assert.Equal(t, s1[0].Confidence, s2[0].Confidence)
	assert.Equal(t, s1[0].Price, s2[0].Price)
}

func flatThenSpikeBars(id market.AssetId) []market.OHLCVBar {
	bars := make([]market.OHLCVBar, 0, 21)
	price := 100.0
	for i := 0; i < 19; i++ {
		bars = append(bars, market.OHLCVBar{AssetId: id, Timestamp: int64(i), Open: price, High: price + 0.1, Low: price - 0.1, Close: price, Volume: 5})
	}
	// one large move to push z-score and volatility well past threshold.
	price = price * 1.5
	bars = append(bars, market.OHLCVBar{AssetId: id, Timestamp: 19, Open: 100, High: price + 1, Low: 99, Close: price, Volume: 5})
	return bars
}

func TestMeanReversion_ExtremeDeviationProducesShortAndSpike(t *testing.T) {
	m := NewMeanReversion()
	snap := market.MarketSnapshot{TakenAt: time.Unix(0, 0), Bars: map[market.AssetId][]market.OHLCVBar{
		"ethereum": flatThenSpikeBars("ethereum"),
	}}

	analysis, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)

	signals, err := m.GenerateSignals(context.Background(), analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, signal.Short, signals[0].Direction)

	spikes := analysis.(reversionAnalysis).VolatilitySpikes()
	require.Len(t, spikes, 1)
	assert.Equal(t, market.AssetId("ethereum"), spikes[0].AssetId)
	assert.GreaterOrEqual(t, spikes[0].Percentile, spikes[0].ThresholdExceeded)
}

func TestMeanReversion_FlatPricesProduceNoSignal(t *testing.T) {
	m := NewMeanReversion()
	bars := make([]market.OHLCVBar, 20)
	for i := range bars {
		bars[i] = market.OHLCVBar{AssetId: "bitcoin", Timestamp: int64(i), Open: 100, High: 100.1, Low: 99.9, Close: 100, Volume: 1}
	}
	snap := market.MarketSnapshot{Bars: map[market.AssetId][]market.OHLCVBar{"bitcoin": bars}}

	analysis, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)
	signals, err := m.GenerateSignals(context.Background(), analysis)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
