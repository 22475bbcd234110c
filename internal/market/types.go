// Package market holds the collection-side domain model: assets, tiers,
// OHLCV bars, macro data points, and the MarketSnapshot handed to
// strategies, plus the MarketDataSource/MarketDataRepository capabilities
// the core consumes (spec.md §1, §3, §6.4).
package market

import (
	"context"
	"fmt"
	"time"
)

// AssetId is an opaque, stable, comparable asset identifier (e.g. "bitcoin").
type AssetId string

// Tier is the cadence class assigning a collection interval to an asset.
type Tier string

const (
	HighFrequency Tier = "HIGH_FREQUENCY"
	Hourly        Tier = "HOURLY"
	Daily         Tier = "DAILY"
)

// Priority orders tiers for scheduling tie-breaks: HIGH_FREQUENCY beats
// HOURLY beats DAILY, per spec.md §4.4.
func (t Tier) Priority() int {
	switch t {
	case HighFrequency:
		return 0
	case Hourly:
		return 1
	case Daily:
		return 2
	default:
		return 99
	}
}

// DefaultInterval returns the spec.md §6.1 default interval for a tier.
func (t Tier) DefaultInterval() time.Duration {
	switch t {
	case HighFrequency:
		return 15 * time.Minute
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// OHLCVBar is one candle for one asset at one timestamp.
type OHLCVBar struct {
	AssetId   AssetId   `json:"asset_id"`
	Timestamp int64     `json:"timestamp_ms"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate enforces invariant (3) from spec.md §3:
// low <= min(open,close) <= max(open,close) <= high, volume >= 0.
func (b OHLCVBar) Validate() error {
	if b.AssetId == "" {
		return fmt.Errorf("bar: empty asset id")
	}
	lo := min(b.Open, b.Close)
	hi := max(b.Open, b.Close)
	if !(b.Low <= lo && hi <= b.High) {
		return fmt.Errorf("bar: invariant violated for %s@%d: low=%.8f open=%.8f close=%.8f high=%.8f",
			b.AssetId, b.Timestamp, b.Low, b.Open, b.Close, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar: negative volume %.8f for %s@%d", b.Volume, b.AssetId, b.Timestamp)
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar: non-positive price for %s@%d", b.AssetId, b.Timestamp)
	}
	return nil
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// MacroPoint is one macroeconomic indicator reading.
type MacroPoint struct {
	IndicatorId   string  `json:"indicator_id"`
	Date          string  `json:"date"` // YYYY-MM-DD
	Value         float64 `json:"value"`
	Interpolated  bool    `json:"interpolated"`
}

// Window bounds a fetch request; a zero Since means "bootstrap window".
type Window struct {
	Since time.Time
	Until time.Time
}

// MarketSnapshot is the immutable per-tick bundle of recent bars and macro
// series handed to strategies (spec.md §3). Strategies must not mutate it.
type MarketSnapshot struct {
	TakenAt time.Time
	Bars    map[AssetId][]OHLCVBar
	Macro   map[string][]MacroPoint
}

// BarsFor returns the bar slice for an asset, or nil if absent. Callers
// must treat the result as read-only.
func (s MarketSnapshot) BarsFor(id AssetId) []OHLCVBar {
	return s.Bars[id]
}

// FetchError carries a classification kind alongside the underlying cause,
// following the teacher's QuoteError pattern (adapters.QuoteError).
type FetchError struct {
	Kind    string // "network" | "rate_limit" | "provider_error" | "bad_symbol" | "schema"
	AssetId AssetId
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.AssetId, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.AssetId, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// MarketDataSource is the out-of-scope external collaborator the core
// consumes to pull raw bars (spec.md §6.4).
type MarketDataSource interface {
	Fetch(ctx context.Context, id AssetId, window Window) ([]OHLCVBar, error)
}

// MarketDataRepository is the out-of-scope external collaborator the core
// consumes for persistence (spec.md §6.4). UpsertBars must be idempotent on
// (assetId, timestamp).
type MarketDataRepository interface {
	UpsertBars(ctx context.Context, bars []OHLCVBar) (int, error)
	GetSnapshot(ctx context.Context, ids []AssetId, window Window) (MarketSnapshot, error)
}
