package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/riftlabs/marketcore/internal/clock"
	"github.com/riftlabs/marketcore/internal/collector"
	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/observ"
	"github.com/riftlabs/marketcore/internal/ratelimit"
	"github.com/riftlabs/marketcore/internal/retry"
)

// AssetSpec is one configured (assetId, tier, provider) assignment, per
// spec.md §6.1's `assets` config list.
type AssetSpec struct {
	AssetId  market.AssetId
	Tier     market.Tier
	Provider string
}

// Config holds the scheduler's tunables, per spec.md §6.1.
type Config struct {
	Interval         map[market.Tier]time.Duration
	DisableThreshold int // default 10
	Concurrency      int // default 8
	Retry            retry.Config
}

// DefaultConfig returns spec.md's documented tier intervals and defaults.
func DefaultConfig() Config {
	return Config{
		Interval: map[market.Tier]time.Duration{
			market.HighFrequency: 900 * time.Second,
			market.Hourly:        3600 * time.Second,
			market.Daily:         86400 * time.Second,
		},
		DisableThreshold: 10,
		Concurrency:      8,
		Retry:            retry.DefaultConfig(),
	}
}

func (c Config) intervalFor(t market.Tier) time.Duration {
	if d, ok := c.Interval[t]; ok && d > 0 {
		return d
	}
	return t.DefaultInterval()
}

// Scheduler drives collection tasks at tier cadence (C4).
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[market.AssetId]*CollectionTask
	pq      taskHeap
	cfg     Config
	source  market.MarketDataSource
	repo    market.MarketDataRepository
	gates   *ratelimit.Registry
	store   *Store
	clk     clock.Clock
	logger  *observ.Logger
	metrics persistedMetrics
	unknown map[string]json.RawMessage
}

// New constructs a Scheduler, loading any persisted state and
// reconciling it against the configured asset list: tasks for assets no
// longer configured are dropped, tasks for newly configured assets are
// created fresh with nextFireAt=now (spec.md §8 "first run" boundary).
func New(cfg Config, assets []AssetSpec, source market.MarketDataSource, repo market.MarketDataRepository, gates *ratelimit.Registry, store *Store, clk clock.Clock, logger *observ.Logger) (*Scheduler, error) {
	if cfg.DisableThreshold <= 0 {
		cfg.DisableThreshold = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	s := &Scheduler{
		tasks:  make(map[market.AssetId]*CollectionTask),
		cfg:    cfg,
		source: source,
		repo:   repo,
		gates:  gates,
		store:  store,
		clk:    clk,
		logger: logger,
	}

	persisted, metrics, err := store.Load()
	if err != nil {
		return nil, err
	}
	s.metrics = metrics
	byAsset := make(map[market.AssetId]*CollectionTask, len(persisted))
	for _, t := range persisted {
		byAsset[t.AssetId] = t
	}

	now := clk.Now()
	for _, spec := range assets {
		if t, ok := byAsset[spec.AssetId]; ok {
			t.Tier = spec.Tier
			t.Provider = spec.Provider
			if t.NextFireAt.Before(now) {
				// any task whose nextFireAt is in the past fires within
				// one scheduling quantum after restart (spec.md §4.4).
				t.NextFireAt = now
			}
			s.tasks[spec.AssetId] = t
			continue
		}
		s.tasks[spec.AssetId] = newTask(spec.AssetId, spec.Tier, spec.Provider, now)
	}

	s.pq = make(taskHeap, 0, len(s.tasks))
	for _, t := range s.tasks {
		s.pq = append(s.pq, t)
	}
	heap.Init(&s.pq)

	return s, nil
}

// dueTasks pops every task whose NextFireAt <= now, up to the configured
// concurrency cap, leaving the rest on the heap.
func (s *Scheduler) dueTasks(now time.Time) []*CollectionTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*CollectionTask, 0, s.cfg.Concurrency)
	skipped := make([]*CollectionTask, 0)
	for len(due) < s.cfg.Concurrency && s.pq.Len() > 0 {
		top := s.pq[0]
		if top.NextFireAt.After(now) {
			break
		}
		t := heap.Pop(&s.pq).(*CollectionTask)
		if t.State == Disabled {
			// DISABLED tasks stop consuming rate-gate tokens (spec.md §8)
			// but must not permanently block the heap's top slot; park
			// them a day out and keep scanning for other due work.
			t.NextFireAt = now.Add(24 * time.Hour)
			skipped = append(skipped, t)
			continue
		}
		due = append(due, t)
	}
	for _, t := range skipped {
		heap.Push(&s.pq, t)
	}
	return due
}

func (s *Scheduler) requeue(t *CollectionTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.pq, t)
}

// Tick runs one scheduling pass: dispatch every due task (bounded by
// Concurrency), apply outcomes to task state, persist after each
// transition, and return the outcomes for metrics/logging.
func (s *Scheduler) Tick(ctx context.Context) []collector.Outcome {
	now := s.clk.Now()
	due := s.dueTasks(now)
	if len(due) == 0 {
		return nil
	}

	outcomes := make([]collector.Outcome, len(due))
	var wg sync.WaitGroup
	for i, t := range due {
		wg.Add(1)
		go func(i int, t *CollectionTask) {
			defer wg.Done()
			outcomes[i] = s.runOne(ctx, t, now)
		}(i, t)
	}
	wg.Wait()
	return outcomes
}

func (s *Scheduler) runOne(ctx context.Context, t *CollectionTask, dispatchedAt time.Time) collector.Outcome {
	s.mu.Lock()
	t.State = Running
	s.mu.Unlock()

	interval := s.cfg.intervalFor(t.Tier)
	gate := s.gates.Get(t.Provider)
	if gate == nil {
		gate = s.gates.Register(t.Provider, 60, time.Minute)
	}

	outcome := collector.Run(ctx, collector.Task{
		AssetId:       t.AssetId,
		Tier:          t.Tier,
		Provider:      t.Provider,
		LastSuccessAt: t.LastSuccessAt,
	}, interval, s.source, s.repo, gate, s.cfg.Retry)

	now := s.clk.Now()
	s.mu.Lock()
	if outcome.Success {
		t.applySuccess(now, interval, now, float64(outcome.Duration.Milliseconds()))
	} else {
		delay := outcome.NextHintedDelay
		if delay <= 0 {
			delay = retry.Delay(t.ConsecutiveFailures, s.cfg.Retry)
		}
		t.applyFailure(now, delay, string(outcome.ErrorKind), s.cfg.DisableThreshold, float64(outcome.Duration.Milliseconds()))
	}
	snapshot := s.snapshotTasksLocked()
	unknown := s.unknown
	metrics := s.metrics
	s.mu.Unlock()

	s.requeue(t)

	if err := s.store.Save(snapshot, metrics, now, unknown); err != nil && s.logger != nil {
		s.logger.Error("scheduler_persist_failed", map[string]any{"error": err.Error(), "asset_id": string(t.AssetId)})
	}
	if s.logger != nil {
		s.logger.Info("collection_outcome", map[string]any{
			"asset_id": string(t.AssetId),
			"success":  outcome.Success,
			"state":    string(t.State),
			"bars":     outcome.BarsUpserted,
		})
	}

	return outcome
}

func (s *Scheduler) snapshotTasksLocked() []*CollectionTask {
	out := make([]*CollectionTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// Reenable returns a DISABLED task to IDLE (operator action or auto-heal).
func (s *Scheduler) Reenable(assetId market.AssetId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[assetId]
	if !ok {
		return false
	}
	t.reenable(s.clk.Now())
	heap.Init(&s.pq)
	return true
}

// TaskHealth is the per-task snapshot spec.md §4.4 requires the scheduler
// to expose.
type TaskHealth struct {
	AssetId             market.AssetId
	State               State
	SuccessRate         float64
	LatencyEMAMs        float64
	LastErrorKind       string
	LastErrorAt         time.Time
	ConsecutiveFailures int
}

// Health returns a point-in-time health snapshot for every task.
func (s *Scheduler) Health() []TaskHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskHealth, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskHealth{
			AssetId:             t.AssetId,
			State:               t.State,
			SuccessRate:         t.SuccessRate(),
			LatencyEMAMs:        t.LatencyEMAMs(),
			LastErrorKind:       t.LastErrorKind,
			LastErrorAt:         t.LastErrorAt,
			ConsecutiveFailures: t.ConsecutiveFailures,
		})
	}
	return out
}

// QueueDepth reports the number of tasks currently waiting in the heap,
// published to observ's scheduler_queue_depth gauge.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pq.Len()
}

// DisabledCount reports the number of tasks in the terminal DISABLED state.
func (s *Scheduler) DisabledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.State == Disabled {
			n++
		}
	}
	return n
}
