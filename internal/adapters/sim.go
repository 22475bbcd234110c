package adapters

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
)

// SimSource is a deterministic, seedable MarketDataSource for tests and
// the local demo command, grounded on the teacher's SimQuotesAdapter
// (previously in this file) — a random-walk price generator over a fixed
// instrument table, generalized from single-quote snapshots to bar
// series.
type SimSource struct {
	mu        sync.Mutex
	bars      map[market.AssetId][]market.OHLCVBar
	basePrice map[market.AssetId]float64
}

// NewSimSource seeds a SimSource with the given starting prices.
func NewSimSource(basePrices map[market.AssetId]float64) *SimSource {
	return &SimSource{
		bars:      make(map[market.AssetId][]market.OHLCVBar),
		basePrice: basePrices,
	}
}

// Seed replaces the bar history for id, useful for constructing fixtures
// in tests.
func (s *SimSource) Seed(id market.AssetId, bars []market.OHLCVBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[id] = bars
}

// Fetch returns the seeded history for id, or synthesizes one deterministic
// wave-driven bar series if none has been generated yet.
func (s *SimSource) Fetch(ctx context.Context, id market.AssetId, window market.Window) ([]market.OHLCVBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.bars[id]
	if len(existing) > 0 {
		out := make([]market.OHLCVBar, len(existing))
		copy(out, existing)
		return out, nil
	}
	base, ok := s.basePrice[id]
	if !ok {
		base = 100
	}
	now := time.Now()
	bars := make([]market.OHLCVBar, 0, 30)
	price := base
	for i := 29; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * time.Minute)
		step := math.Sin(float64(i)) * base * 0.002
		open := price
		close := price + step
		hi := math.Max(open, close) * 1.0005
		lo := math.Min(open, close) * 0.9995
		bars = append(bars, market.OHLCVBar{
			AssetId:   id,
			Timestamp: ts.UnixMilli(),
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     close,
			Volume:    1000 + math.Abs(step)*1e6,
			FetchedAt: now,
		})
		price = close
	}
	s.bars[id] = bars
	out := make([]market.OHLCVBar, len(bars))
	copy(out, bars)
	return out, nil
}

// SimRepository is an in-memory MarketDataRepository for tests, grounded
// on the teacher's in-memory adapter doubles (internal/adapters/testing.go).
type SimRepository struct {
	mu   sync.Mutex
	bars map[market.AssetId]map[int64]market.OHLCVBar
}

func NewSimRepository() *SimRepository {
	return &SimRepository{bars: make(map[market.AssetId]map[int64]market.OHLCVBar)}
}

func (r *SimRepository) UpsertBars(ctx context.Context, bars []market.OHLCVBar) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range bars {
		m, ok := r.bars[b.AssetId]
		if !ok {
			m = make(map[int64]market.OHLCVBar)
			r.bars[b.AssetId] = m
		}
		if _, existed := m[b.Timestamp]; !existed {
			n++
		}
		m[b.Timestamp] = b
	}
	return n, nil
}

func (r *SimRepository) GetSnapshot(ctx context.Context, ids []market.AssetId, window market.Window) (market.MarketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := market.MarketSnapshot{
		TakenAt: time.Now(),
		Bars:    make(map[market.AssetId][]market.OHLCVBar, len(ids)),
		Macro:   map[string][]market.MacroPoint{},
	}
	for _, id := range ids {
		var out []market.OHLCVBar
		for ts, b := range r.bars[id] {
			if !window.Since.IsZero() && ts < window.Since.UnixMilli() {
				continue
			}
			if !window.Until.IsZero() && ts > window.Until.UnixMilli() {
				continue
			}
			out = append(out, b)
		}
		snap.Bars[id] = out
	}
	return snap, nil
}
