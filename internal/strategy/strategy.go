// Package strategy implements the strategy harness (C5): a static registry
// of pluggable analytic strategies run concurrently over one immutable
// MarketSnapshot, isolated from one another's failures. Grounded on the
// teacher's per-gate isolation in risk.RiskManager.EvaluateDecision (a
// failing gate never aborts the whole evaluation) and the REDESIGN FLAGS
// requirement to replace reflection-based discovery with a static registry.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/observ"
	"github.com/riftlabs/marketcore/internal/signal"
)

// Analysis is a strategy-specific intermediate value passed from Analyze to
// GenerateSignals. It is opaque to the harness.
type Analysis any

// Strategy is the capability set spec.md §4.5 requires of every strategy.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, snap market.MarketSnapshot) (Analysis, error)
	GenerateSignals(ctx context.Context, analysis Analysis) ([]signal.TradingSignal, error)
	Parameters() map[string]any
}

// VolatilitySpike is reported by a strategy when percentile-based
// volatility exceeds a threshold (spec.md §4.8).
type VolatilitySpike struct {
	AssetId          market.AssetId
	Price            float64
	Volatility       float64
	Percentile       float64
	ThresholdExceeded float64
}

// An Analysis may additionally implement this no-argument capability to
// surface volatility spikes alongside its trading signals; the harness
// checks for it structurally after GenerateSignals returns (see runOne).
// There is no named interface type for it: strategies own their Analysis
// concrete type, so the capability is a property of that type's method
// set, not something a Strategy declares up front.
//
//	VolatilitySpikes() []VolatilitySpike

// Registry is the static, config-populated set of enabled strategies
// (REDESIGN FLAGS: no reflection-based discovery).
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy by name, overwriting any prior registration
// under that name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Enabled returns the strategies named in the list, in the order given,
// skipping any name not present in the registry.
func (r *Registry) Enabled(names []string) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		if s, ok := r.strategies[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Result bundles one strategy run's output for the harness caller.
type Result struct {
	Strategy string
	Signals  []signal.TradingSignal
	Spikes   []VolatilitySpike
	Err      error
}

// Harness runs N strategies independently and concurrently over a common
// snapshot (spec.md §4.5).
type Harness struct {
	Pool     int           // bounded concurrency, default 4
	Deadline time.Duration // per-strategy execution budget, default 5s
	Logger   *observ.Logger
}

// NewHarness constructs a Harness with spec.md §4.5's documented defaults.
func NewHarness(logger *observ.Logger) *Harness {
	return &Harness{Pool: 4, Deadline: 5 * time.Second, Logger: logger}
}

// Run executes every strategy against snap, isolating failures and
// timeouts: a failing or overrunning strategy drops its output and logs a
// warning, but never aborts the others.
func (h *Harness) Run(ctx context.Context, strategies []Strategy, snap market.MarketSnapshot) []Result {
	pool := h.Pool
	if pool <= 0 {
		pool = 4
	}
	deadline := h.Deadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}

	sem := make(chan struct{}, pool)
	results := make([]Result, len(strategies))
	var wg sync.WaitGroup

	for i, s := range strategies {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s Strategy) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = h.runOne(ctx, s, snap, deadline)
		}(i, s)
	}
	wg.Wait()
	return results
}

func (h *Harness) runOne(ctx context.Context, s Strategy, snap market.MarketSnapshot, deadline time.Duration) (res Result) {
	res.Strategy = s.Name()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Strategy: s.Name(), Err: panicError{r}}
			h.warn(s.Name(), res.Err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	analysis, err := s.Analyze(runCtx, snap)
	if err != nil {
		h.warn(s.Name(), err)
		return Result{Strategy: s.Name(), Err: err}
	}
	if runCtx.Err() != nil {
		h.warn(s.Name(), runCtx.Err())
		return Result{Strategy: s.Name(), Err: runCtx.Err()}
	}

	signals, err := s.GenerateSignals(runCtx, analysis)
	if err != nil {
		h.warn(s.Name(), err)
		return Result{Strategy: s.Name(), Err: err}
	}
	if runCtx.Err() != nil {
		h.warn(s.Name(), runCtx.Err())
		return Result{Strategy: s.Name(), Err: runCtx.Err()}
	}

	var spikes []VolatilitySpike
	if sr, ok := analysis.(interface {
		VolatilitySpikes() []VolatilitySpike
	}); ok {
		spikes = sr.VolatilitySpikes()
	}

	return Result{Strategy: s.Name(), Signals: signals, Spikes: spikes}
}

func (h *Harness) warn(name string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn("strategy_failed", map[string]any{"strategy": name, "error": err.Error()})
}

type panicError struct{ v any }

func (p panicError) Error() string { return "strategy panicked" }
