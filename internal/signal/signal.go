// Package signal holds the strategy-output domain model: TradingSignal and
// AggregatedSignal (spec.md §3).
package signal

import (
	"time"

	"github.com/google/uuid"
	"github.com/riftlabs/marketcore/internal/market"
)

// Direction is a strategy's directional call.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// TradingSignal is one strategy's directional suggestion for one asset,
// immutable after creation.
type TradingSignal struct {
	ID           string
	StrategyName string
	AssetId      market.AssetId
	Direction    Direction
	Price        float64
	Confidence   float64
	ProducedAt   time.Time
}

// New constructs a TradingSignal with a fresh id, validating the invariants
// spec.md §3 requires (price > 0, confidence in [0,1]).
func New(strategy string, asset market.AssetId, dir Direction, price, confidence float64, producedAt time.Time) (TradingSignal, error) {
	s := TradingSignal{
		ID:           uuid.NewString(),
		StrategyName: strategy,
		AssetId:      asset,
		Direction:    dir,
		Price:        price,
		Confidence:   confidence,
		ProducedAt:   producedAt,
	}
	return s, s.validate()
}

func (s TradingSignal) validate() error {
	if s.Price <= 0 {
		return errInvalid("price must be > 0")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errInvalid("confidence must be in [0,1]")
	}
	if s.Direction != Long && s.Direction != Short {
		return errInvalid("direction must be LONG or SHORT")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }

// Expired reports whether the signal is older than ttl as of now, per
// spec.md §4.6's signalTtl discard rule.
func (s TradingSignal) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.ProducedAt) > ttl
}

// AggregatedSignal is the consensus output over one or more TradingSignals
// for the same asset in one tick (spec.md §3).
type AggregatedSignal struct {
	ID                      string
	AssetId                 market.AssetId
	Direction               Direction
	Confidence              float64
	ContributingStrategies  []string
	Price                   float64
	ProducedAt              time.Time
}
