// Package scheduler implements the tier scheduler (C4): a priority-queue
// of per-asset collection tasks, each a small state machine
// (IDLE/RUNNING/COOLING/DISABLED), with versioned JSON persistence.
// Grounded on the teacher's portfolio.Manager atomic temp-file+rename
// persistence (internal/portfolio/state.go) and risk.CircuitBreakerState's
// event-sourced state-machine shape (internal/risk/circuitbreaker.go).
package scheduler

import (
	"time"

	"github.com/riftlabs/marketcore/internal/market"
)

// State is a CollectionTask's scheduling state (spec.md §4.4).
type State string

const (
	Idle     State = "IDLE"
	Running  State = "RUNNING"
	Cooling  State = "COOLING"
	Disabled State = "DISABLED"
)

// CollectionTask is the scheduler's bookkeeping record for one (assetId,
// tier) pair (spec.md §3).
type CollectionTask struct {
	AssetId            market.AssetId
	Tier               market.Tier
	Provider           string
	State              State
	LastSuccessAt      time.Time
	NextFireAt         time.Time
	ConsecutiveFailures int
	Successes          int64
	Failures           int64
	LastErrorKind      string
	LastErrorAt        time.Time

	recentOutcomes []bool // ring of the last N outcomes, newest last
	emaLatencyMs   float64
}

const recentOutcomeWindow = 20

func newTask(assetId market.AssetId, tier market.Tier, provider string, now time.Time) *CollectionTask {
	return &CollectionTask{
		AssetId:    assetId,
		Tier:       tier,
		Provider:   provider,
		State:      Idle,
		NextFireAt: now, // fires within one scheduling quantum on first run
	}
}

// recordOutcome folds one collection outcome into the task's rolling
// success-rate and latency estimate (spec.md §4.4 "health and metrics").
func (t *CollectionTask) recordOutcome(success bool, latencyMs float64) {
	t.recentOutcomes = append(t.recentOutcomes, success)
	if len(t.recentOutcomes) > recentOutcomeWindow {
		t.recentOutcomes = t.recentOutcomes[len(t.recentOutcomes)-recentOutcomeWindow:]
	}
	const alpha = 0.3
	if t.emaLatencyMs == 0 {
		t.emaLatencyMs = latencyMs
	} else {
		t.emaLatencyMs = alpha*latencyMs + (1-alpha)*t.emaLatencyMs
	}
}

// SuccessRate returns the fraction of successes among the last N recorded
// outcomes.
func (t *CollectionTask) SuccessRate() float64 {
	if len(t.recentOutcomes) == 0 {
		return 1
	}
	n := 0
	for _, ok := range t.recentOutcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(t.recentOutcomes))
}

// LatencyEMAMs returns the exponential moving average of observed collection
// latency in milliseconds.
func (t *CollectionTask) LatencyEMAMs() float64 { return t.emaLatencyMs }

// applySuccess advances the task on a successful collection outcome per
// spec.md §4.4's state diagram and invariant (2): nextFireAt never moves
// backwards relative to lastSuccessAt, and a late-arriving older outcome is
// discarded rather than regressing lastSuccessAt.
func (t *CollectionTask) applySuccess(now time.Time, interval time.Duration, observedAt time.Time, latencyMs float64) {
	if observedAt.Before(t.LastSuccessAt) {
		return // stale outcome: never moves lastSuccessAt backwards
	}
	t.LastSuccessAt = observedAt
	t.NextFireAt = observedAt.Add(interval)
	t.ConsecutiveFailures = 0
	t.Successes++
	t.State = Idle
	t.recordOutcome(true, latencyMs)
}

// applyFailure advances the task on a failed collection outcome, entering
// COOLING (or terminal DISABLED past disableThreshold).
func (t *CollectionTask) applyFailure(now time.Time, backoff time.Duration, errKind string, disableThreshold int, latencyMs float64) {
	t.ConsecutiveFailures++
	t.Failures++
	t.LastErrorKind = errKind
	t.LastErrorAt = now
	t.recordOutcome(false, latencyMs)

	if t.ConsecutiveFailures >= disableThreshold {
		t.State = Disabled
		return
	}
	t.State = Cooling
	t.NextFireAt = now.Add(backoff)
}

// reenable returns a DISABLED task to IDLE, firing within one quantum, per
// an operator action or the configured auto-heal interval.
func (t *CollectionTask) reenable(now time.Time) {
	t.ConsecutiveFailures = 0
	t.State = Idle
	t.NextFireAt = now
}
