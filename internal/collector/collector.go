// Package collector implements the collection task (C3): one asset's
// fetch -> validate -> persist -> record-outcome cycle, grounded on the
// teacher's AlphaVantageAdapter.GetQuote fetch/validate/cache flow
// (internal/adapters/alphavantage.go) and portfolio.Manager's idempotent
// persist pattern.
package collector

import (
	"context"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/ratelimit"
	"github.com/riftlabs/marketcore/internal/retry"
)

// Outcome is the result of one collection attempt, handed back to the
// scheduler to update task bookkeeping.
type Outcome struct {
	AssetId         market.AssetId
	Success         bool
	BarsUpserted    int
	DuplicatesDropped int
	GapsDetected    int
	ErrorKind       retry.Kind
	Err             error
	NextHintedDelay time.Duration // non-zero when the provider suggested a retry-after
	Duration        time.Duration
	TimedOut        bool
	Canceled        bool
}

// Task is the minimal read-only view the collector needs of a scheduler
// bookkeeping record; the scheduler owns the full CollectionTask type.
type Task struct {
	AssetId       market.AssetId
	Tier          market.Tier
	Provider      string
	LastSuccessAt time.Time
}

// Run executes one fetch -> validate -> persist cycle for task, acquiring a
// rate-gate token with a deadline of tierInterval/4 (spec.md §4.3 step 1)
// and never blocking the caller for longer than tierInterval/2 (spec.md
// §4.3's "never blocks the scheduler" guarantee).
func Run(ctx context.Context, task Task, tierInterval time.Duration, source market.MarketDataSource, repo market.MarketDataRepository, gate *ratelimit.Gate, retryCfg retry.Config) Outcome {
	start := time.Now()

	budget := tierInterval / 2
	if budget <= 0 {
		budget = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	gateDeadline := tierInterval / 4
	if gateDeadline <= 0 {
		gateDeadline = 5 * time.Second
	}

	outcome := attemptWithRetry(runCtx, task, source, repo, gate, gateDeadline, retryCfg)
	outcome.AssetId = task.AssetId
	outcome.Duration = time.Since(start)
	return outcome
}

func attemptWithRetry(ctx context.Context, task Task, source market.MarketDataSource, repo market.MarketDataRepository, gate *ratelimit.Gate, gateDeadline time.Duration, cfg retry.Config) Outcome {
	cfg = cfg.WithDefaults()

	var lastErr error
	var lastKind retry.Kind

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Outcome{Success: false, ErrorKind: retry.Internal, Err: ctx.Err(), TimedOut: true}
		}

		if err := gate.Acquire(ctx, time.Now().Add(gateDeadline)); err != nil {
			lastErr = err
			lastKind = retry.RateLimit
			if !lastKind.Retryable() || attempt == cfg.MaxAttempts-1 {
				break
			}
			sleep(ctx, retry.NextDelay(attempt, cfg, lastErr))
			continue
		}

		window := windowFor(task)
		bars, err := source.Fetch(ctx, task.AssetId, window)
		if err != nil {
			lastErr = err
			lastKind = retry.Classify(err)
			if !lastKind.Retryable() || attempt == cfg.MaxAttempts-1 {
				break
			}
			sleep(ctx, retry.NextDelay(attempt, cfg, err))
			continue
		}

		valid, gaps := validateBars(bars)
		count, upsertErr := repo.UpsertBars(ctx, valid)
		if upsertErr != nil {
			lastErr = upsertErr
			lastKind = retry.Classify(upsertErr)
			if !lastKind.Retryable() || attempt == cfg.MaxAttempts-1 {
				break
			}
			sleep(ctx, retry.NextDelay(attempt, cfg, upsertErr))
			continue
		}

		return Outcome{
			Success:      true,
			BarsUpserted: count,
			GapsDetected: gaps,
		}
	}

	if ctx.Err() != nil {
		return Outcome{Success: false, ErrorKind: retry.Internal, Err: ctx.Err(), Canceled: true}
	}

	d, _ := retry.RetryAfter(lastErr)
	return Outcome{Success: false, ErrorKind: lastKind, Err: lastErr, NextHintedDelay: d}
}

func windowFor(task Task) market.Window {
	if task.LastSuccessAt.IsZero() {
		return market.Window{} // bootstrap: source decides default lookback
	}
	return market.Window{Since: task.LastSuccessAt}
}

// validateBars enforces spec.md §3 invariant (3) per bar, dropping invalid
// bars rather than failing the whole task (spec.md §4.3 step 3).
func validateBars(bars []market.OHLCVBar) ([]market.OHLCVBar, int) {
	valid := make([]market.OHLCVBar, 0, len(bars))
	gaps := 0
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			gaps++
			continue
		}
		valid = append(valid, b)
	}
	return valid, gaps
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
