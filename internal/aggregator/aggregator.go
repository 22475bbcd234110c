// Package aggregator implements the signal aggregator (C6): grouping
// multi-strategy signals by asset and resolving conflicts into one decision
// per asset, grounded on the teacher's decision.fuse confidence-weighted
// scoring (internal/decision/engine.go), here split per direction instead
// of summed into a single fused score.
package aggregator

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/signal"
)

// Config mirrors spec.md §6.1's `aggregation` section.
type Config struct {
	ConsensusThreshold    float64       // default 0.6
	MinConfidenceThreshold float64      // default 0.1
	SignalTTL             time.Duration // default 24h
}

// DefaultConfig returns spec.md §4.6's documented defaults.
func DefaultConfig() Config {
	return Config{ConsensusThreshold: 0.6, MinConfidenceThreshold: 0.1, SignalTTL: 24 * time.Hour}
}

func (c Config) withDefaults() Config {
	if c.ConsensusThreshold <= 0 {
		c.ConsensusThreshold = 0.6
	}
	if c.MinConfidenceThreshold < 0 {
		c.MinConfidenceThreshold = 0.1
	}
	if c.SignalTTL <= 0 {
		c.SignalTTL = 24 * time.Hour
	}
	return c
}

// Aggregate runs the algorithm of spec.md §4.6 over the union of signals
// from all strategies for one snapshot, returning AggregatedSignals in
// deterministic AssetId order.
func Aggregate(signals []signal.TradingSignal, cfg Config, now time.Time) []signal.AggregatedSignal {
	cfg = cfg.withDefaults()

	byAsset := make(map[market.AssetId][]signal.TradingSignal)
	for _, s := range signals {
		if s.Expired(now, cfg.SignalTTL) {
			continue
		}
		byAsset[s.AssetId] = append(byAsset[s.AssetId], s)
	}

	assets := make([]market.AssetId, 0, len(byAsset))
	for a := range byAsset {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	out := make([]signal.AggregatedSignal, 0, len(assets))
	for _, asset := range assets {
		agg, ok := aggregateOne(byAsset[asset], cfg, now)
		if ok && agg.Confidence >= cfg.MinConfidenceThreshold {
			out = append(out, agg)
		}
	}
	return out
}

func aggregateOne(sigs []signal.TradingSignal, cfg Config, now time.Time) (signal.AggregatedSignal, bool) {
	if len(sigs) == 0 {
		return signal.AggregatedSignal{}, false
	}

	if len(sigs) == 1 {
		s := sigs[0]
		return signal.AggregatedSignal{
			ID:                     uuid.NewString(),
			AssetId:                s.AssetId,
			Direction:              s.Direction,
			Confidence:             s.Confidence,
			ContributingStrategies: []string{s.StrategyName},
			Price:                  s.Price,
			ProducedAt:             now,
		}, true
	}

	var voteLong, voteShort, total float64
	var priceSum float64
	contributors := make([]string, 0, len(sigs))
	for _, s := range sigs {
		if s.Direction == signal.Long {
			voteLong += s.Confidence
		} else {
			voteShort += s.Confidence
		}
		total += s.Confidence
		priceSum += s.Price
		contributors = append(contributors, s.StrategyName)
	}
	sort.Strings(contributors)

	if total <= 0 {
		return signal.AggregatedSignal{}, false
	}

	maxVote := voteLong
	dir := signal.Long
	if voteShort > voteLong {
		maxVote = voteShort
		dir = signal.Short
	}

	if maxVote < cfg.ConsensusThreshold*total {
		return signal.AggregatedSignal{}, false // no consensus
	}

	return signal.AggregatedSignal{
		ID:                     uuid.NewString(),
		AssetId:                sigs[0].AssetId,
		Direction:              dir,
		Confidence:             maxVote / total,
		ContributingStrategies: contributors,
		Price:                  priceSum / float64(len(sigs)),
		ProducedAt:             now,
	}, true
}
