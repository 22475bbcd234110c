package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/signal"
)

func sig(t *testing.T, strategy string, dir signal.Direction, confidence float64) signal.TradingSignal {
	t.Helper()
	s, err := signal.New(strategy, market.AssetId("ethereum"), dir, 3000, confidence, time.Unix(0, 0))
	require.NoError(t, err)
	return s
}

// Scenario C — aggregator consensus: long=1.5, short=0.6, total=2.1,
// confidence 1.5/2.1 ≈ 0.714.
func TestAggregate_ConsensusAcrossThreeStrategies(t *testing.T) {
	signals := []signal.TradingSignal{
		sig(t, "momentum", signal.Long, 0.8),
		sig(t, "mean_reversion", signal.Long, 0.7),
		sig(t, "macro", signal.Short, 0.6),
	}

	out := Aggregate(signals, DefaultConfig(), time.Unix(0, 0))

	require.Len(t, out, 1)
	assert.Equal(t, signal.Long, out[0].Direction)
	assert.InDelta(t, 0.714, out[0].Confidence, 0.001)
	assert.ElementsMatch(t, []string{"macro", "mean_reversion", "momentum"}, out[0].ContributingStrategies)
}

func TestAggregate_NoConsensusDropsAsset(t *testing.T) {
	signals := []signal.TradingSignal{
		sig(t, "momentum", signal.Long, 0.5),
		sig(t, "mean_reversion", signal.Short, 0.5),
	}

	out := Aggregate(signals, DefaultConfig(), time.Unix(0, 0))

	assert.Empty(t, out)
}

func TestAggregate_SingleSignalPassesThrough(t *testing.T) {
	signals := []signal.TradingSignal{sig(t, "momentum", signal.Long, 0.9)}

	out := Aggregate(signals, DefaultConfig(), time.Unix(0, 0))

	require.Len(t, out, 1)
	assert.Equal(t, 0.9, out[0].Confidence)
	assert.Equal(t, []string{"momentum"}, out[0].ContributingStrategies)
}

func TestAggregate_ExpiredSignalsExcluded(t *testing.T) {
	s := sig(t, "momentum", signal.Long, 0.9)
	cfg := Config{ConsensusThreshold: 0.6, MinConfidenceThreshold: 0.1, SignalTTL: time.Minute}
	now := s.ProducedAt.Add(time.Hour)

	out := Aggregate([]signal.TradingSignal{s}, cfg, now)

	assert.Empty(t, out)
}

func TestAggregate_BelowMinConfidenceDropped(t *testing.T) {
	signals := []signal.TradingSignal{sig(t, "momentum", signal.Long, 0.05)}
	cfg := Config{ConsensusThreshold: 0.6, MinConfidenceThreshold: 0.1, SignalTTL: time.Hour}

	out := Aggregate(signals, cfg, time.Unix(0, 0))

	assert.Empty(t, out)
}

func TestAggregate_DeterministicAssetOrdering(t *testing.T) {
	btc, err := signal.New("momentum", market.AssetId("bitcoin"), signal.Long, 50000, 0.9, time.Unix(0, 0))
	require.NoError(t, err)
	eth, err := signal.New("momentum", market.AssetId("ethereum"), signal.Long, 3000, 0.9, time.Unix(0, 0))
	require.NoError(t, err)

	out := Aggregate([]signal.TradingSignal{eth, btc}, DefaultConfig(), time.Unix(0, 0))

	require.Len(t, out, 2)
	assert.Equal(t, market.AssetId("bitcoin"), out[0].AssetId)
	assert.Equal(t, market.AssetId("ethereum"), out[1].AssetId)
}
