// Command marketsignal is the composition root: it wires the collection
// scheduler, strategy harness, aggregator, risk orchestrator, and alert
// sinks into one supervised process, per spec.md §4.9 / §5. Grounded on
// cmd/risk-demo/main.go's env-driven wiring and signal-driven graceful
// shutdown, generalized from one monolithic RiskManager into discrete
// supervisor.Component registrations.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/riftlabs/marketcore/internal/adapters"
	"github.com/riftlabs/marketcore/internal/aggregator"
	"github.com/riftlabs/marketcore/internal/alerts"
	"github.com/riftlabs/marketcore/internal/clock"
	"github.com/riftlabs/marketcore/internal/config"
	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/observ"
	"github.com/riftlabs/marketcore/internal/overrides"
	"github.com/riftlabs/marketcore/internal/portfolio"
	"github.com/riftlabs/marketcore/internal/ratelimit"
	"github.com/riftlabs/marketcore/internal/retry"
	"github.com/riftlabs/marketcore/internal/risk"
	"github.com/riftlabs/marketcore/internal/scheduler"
	"github.com/riftlabs/marketcore/internal/signal"
	"github.com/riftlabs/marketcore/internal/strategy"
	"github.com/riftlabs/marketcore/internal/supervisor"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("MARKETSIGNAL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("marketsignal: config: %v", err)
	}

	logger := observ.NewLogger(os.Stdout, "marketsignal")
	observ.SetVersion(os.Getenv("MARKETSIGNAL_VERSION"))

	repo, err := adapters.NewOHLCVRepository(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("marketsignal: repository: %v", err)
	}

	feedEndpoint := os.Getenv("MARKETSIGNAL_FEED_URL")
	var source market.MarketDataSource
	if feedEndpoint != "" {
		feed := adapters.NewWSFeed(feedEndpoint)
		go feed.Run(context.Background())
		source = feed
	} else {
		basePrices := map[market.AssetId]float64{}
		for _, a := range cfg.Assets {
			basePrices[market.AssetId(a.AssetId)] = 100
		}
		source = adapters.NewSimSource(basePrices)
	}

	gates := ratelimit.NewRegistry()
	for _, p := range cfg.Providers {
		gates.Register(p.Name, p.RateLimitPerWindow, time.Duration(p.WindowSeconds)*time.Second)
	}

	assets := make([]scheduler.AssetSpec, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, scheduler.AssetSpec{
			AssetId:  market.AssetId(a.AssetId),
			Tier:     market.Tier(a.Tier),
			Provider: a.Provider,
		})
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.DisableThreshold = cfg.Collection.DisableThreshold
	schedCfg.Concurrency = cfg.Collection.WorkerPoolSize
	schedCfg.Retry = retry.Config{
		Base:        time.Duration(cfg.Collection.RetryBaseMs) * time.Millisecond,
		Factor:      cfg.Collection.RetryFactor,
		Cap:         time.Duration(cfg.Collection.RetryCapMs) * time.Millisecond,
		MaxAttempts: cfg.Collection.RetryMaxAttempts,
	}
	for name, t := range cfg.Tiers {
		schedCfg.Interval[market.Tier(name)] = time.Duration(t.IntervalSeconds) * time.Second
	}

	store := scheduler.NewStore(cfg.SchedulerStatePath)
	sched, err := scheduler.New(schedCfg, assets, source, repo, gates, store, clock.Real{}, logger.With("component", "scheduler"))
	if err != nil {
		log.Fatalf("marketsignal: scheduler: %v", err)
	}

	strategyRegistry := strategy.NewRegistry()
	strategyRegistry.Register(strategy.NewMomentum())
	strategyRegistry.Register(strategy.NewMeanReversion())
	enabledNames := make([]string, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		if s.Enabled {
			enabledNames = append(enabledNames, s.Name)
		}
	}
	if len(enabledNames) == 0 {
		enabledNames = []string{"momentum", "mean_reversion"}
	}

	harness := strategy.NewHarness(logger.With("component", "strategy"))
	harness.Pool = cfg.Harness.PoolSize
	harness.Deadline = time.Duration(cfg.Harness.DeadlineSeconds) * time.Second

	aggCfg := aggregator.Config{
		ConsensusThreshold:     cfg.Aggregation.ConsensusThreshold,
		MinConfidenceThreshold: cfg.Aggregation.MinConfidenceThreshold,
		SignalTTL:              time.Duration(cfg.Aggregation.SignalTtlSeconds) * time.Second,
	}

	riskCfg := risk.Config{
		MaxDrawdownLimit:     cfg.Risk.MaxDrawdownLimit,
		DailyLossLimit:       cfg.Risk.DailyLossLimit,
		PerTradeStopLoss:     cfg.Risk.PerTradeStopLoss,
		BasePositionPct:      cfg.Risk.BasePositionPct,
		MaxPositionSize:      cfg.Risk.MaxPositionSize,
		ConfidenceMultiplier: cfg.Risk.ConfidenceMultiplier,
		RiskRewardRatio:      cfg.Risk.RiskRewardRatio,
		CooldownPeriod:       time.Duration(cfg.Risk.CooldownSeconds) * time.Second,
	}
	orchestrator := risk.NewOrchestrator(riskCfg)

	portfolioMgr := portfolio.NewManager(cfg.PortfolioStatePath, 100000)
	if err := portfolioMgr.Load(); err != nil {
		log.Fatalf("marketsignal: portfolio: %v", err)
	}

	alertGen := alerts.NewGenerator()
	fileSink := alerts.NewFileSink(cfg.AlertsDir)
	var slackSink *alerts.SlackSink
	if cfg.SlackWebhookURL != "" {
		slackSink = alerts.NewSlackSink(cfg.SlackWebhookURL, 1000)
	}

	overridesStore := overrides.NewStore(cfg.OverridesPath)
	promRegistry := observ.NewPromRegistry()

	sup := supervisor.New(supervisor.Config{
		DrainDeadline:   time.Duration(cfg.Supervisor.DrainDeadlineSeconds) * time.Second,
		HealthPoll:      time.Duration(cfg.Supervisor.HealthPollSeconds) * time.Second,
		UnhealthyStreak: cfg.Supervisor.UnhealthyStreak,
		MaxRestarts:     cfg.Supervisor.MaxRestarts,
	}, logger)

	overridesStop := make(chan struct{})
	sup.Add(supervisor.Component{
		Name: "overrides",
		Start: func(ctx context.Context) error {
			go overridesStore.Run(overridesStop, 10*time.Second)
			return nil
		},
		Stop: func(ctx context.Context) error {
			close(overridesStop)
			return nil
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promRegistry.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	sup.Add(supervisor.Component{
		Name: "metrics",
		Start: func(ctx context.Context) error {
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics_server_failed", map[string]any{"error": err.Error()})
				}
			}()
			return nil
		},
		Stop: func(ctx context.Context) error {
			return metricsServer.Shutdown(ctx)
		},
		// Restartable left false: a failing health/metrics listener should
		// surface to the operator, not flap under the supervisor's restart
		// policy.
	})

	if slackSink != nil {
		slackCtx, slackCancel := context.WithCancel(context.Background())
		sup.Add(supervisor.Component{
			Name: "slack_sink",
			Start: func(ctx context.Context) error {
				go slackSink.Run(slackCtx)
				return nil
			},
			Stop: func(ctx context.Context) error {
				slackCancel()
				return nil
			},
		})
	}

	assetIds := make([]market.AssetId, 0, len(assets))
	for _, a := range assets {
		assetIds = append(assetIds, a.AssetId)
	}

	pipelineStop := make(chan struct{})
	sup.Add(supervisor.Component{
		Name: "pipeline",
		Start: func(ctx context.Context) error {
			go runPipeline(pipelineStop, sched, repo, assetIds, strategyRegistry, harness, enabledNames, aggCfg, orchestrator, portfolioMgr, alertGen, fileSink, slackSink, overridesStore, promRegistry, logger)
			return nil
		},
		Stop: func(ctx context.Context) error {
			close(pipelineStop)
			return nil
		},
		Health: func() supervisor.Health {
			if sched.DisabledCount() > 0 {
				return supervisor.Health{Status: supervisor.Degraded, Detail: "tasks disabled"}
			}
			return supervisor.Health{Status: supervisor.Healthy}
		},
	})

	if err := sup.Run(context.Background()); err != nil {
		log.Fatalf("marketsignal: %v", err)
	}
}

// runPipeline drives the tick loop: collection → strategy analysis →
// aggregation → risk assessment → alerting, per spec.md §5's per-tick
// pipeline.
func runPipeline(
	stop <-chan struct{},
	sched *scheduler.Scheduler,
	repo market.MarketDataRepository,
	assetIds []market.AssetId,
	registry *strategy.Registry,
	harness *strategy.Harness,
	enabledNames []string,
	aggCfg aggregator.Config,
	orchestrator *risk.Orchestrator,
	portfolioMgr *portfolio.Manager,
	alertGen *alerts.Generator,
	fileSink *alerts.FileSink,
	slackSink *alerts.SlackSink,
	overridesStore *overrides.Store,
	promRegistry *observ.PromRegistry,
	logger *observ.Logger,
) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tick(ctx, sched, repo, assetIds, registry, harness, enabledNames, aggCfg, orchestrator, portfolioMgr, alertGen, fileSink, slackSink, overridesStore, promRegistry, logger)
		}
	}
}

func tick(
	ctx context.Context,
	sched *scheduler.Scheduler,
	repo market.MarketDataRepository,
	assetIds []market.AssetId,
	registry *strategy.Registry,
	harness *strategy.Harness,
	enabledNames []string,
	aggCfg aggregator.Config,
	orchestrator *risk.Orchestrator,
	portfolioMgr *portfolio.Manager,
	alertGen *alerts.Generator,
	fileSink *alerts.FileSink,
	slackSink *alerts.SlackSink,
	overridesStore *overrides.Store,
	promRegistry *observ.PromRegistry,
	logger *observ.Logger,
) {
	outcomes := sched.Tick(ctx)
	for _, o := range outcomes {
		observ.IncCounter("collection_attempts_total", nil)
		outcome := "failure"
		if o.Success {
			observ.IncCounter("collection_successes_total", nil)
			outcome = "success"
		}
		observ.Observe("collection_latency_ms", o.Duration.Seconds()*1000, nil)
		promRegistry.CollectionAttempts.WithLabelValues(string(o.AssetId), outcome).Inc()
		promRegistry.CollectionLatency.WithLabelValues(string(o.AssetId)).Observe(o.Duration.Seconds())
	}
	promRegistry.SchedulerQueue.Set(float64(sched.QueueDepth()))
	observ.SetGauge("scheduler_queue_depth", float64(sched.QueueDepth()), nil)

	override := overridesStore.Current()
	if override.GlobalPause {
		return
	}

	snap, err := repo.GetSnapshot(ctx, assetIds, market.Window{})
	if err != nil {
		logger.Error("snapshot_failed", map[string]any{"error": err.Error()})
		return
	}

	strategies := registry.Enabled(enabledNames)
	results := harness.Run(ctx, strategies, snap)

	var allSignals []signal.TradingSignal
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		allSignals = append(allSignals, r.Signals...)
		for _, spike := range r.Spikes {
			if override.IsFrozen(string(spike.AssetId)) {
				continue
			}
			alert := alertGen.FromVolatilitySpike(spike, snap.TakenAt)
			dispatch(ctx, alert, fileSink, slackSink, promRegistry, logger)
		}
	}

	aggregated := aggregator.Aggregate(allSignals, aggCfg, snap.TakenAt)
	pf := portfolioMgr.Snapshot().ToRiskPortfolio()
	tightened := orchestrator.Tightened(override.RiskTightening)

	for _, agg := range aggregated {
		if override.IsFrozen(string(agg.AssetId)) {
			continue
		}
		assessment := tightened.Assess(agg, pf, snap.TakenAt)
		observ.IncCounter("risk_assessments_total", nil)
		decision := "rejected"
		if assessment.Approved {
			observ.IncCounter("risk_approvals_total", nil)
			decision = "approved"
		}
		promRegistry.RiskAssessments.WithLabelValues(decision).Inc()
		if !assessment.Approved {
			if err := portfolioMgr.RecordRejection(string(agg.AssetId), snap.TakenAt); err != nil {
				logger.Error("record_rejection_failed", map[string]any{"error": err.Error()})
			}
			continue
		}
		alert := alertGen.FromAssessment(assessment, agg.Price, agg.Confidence, agg.ContributingStrategies, snap.TakenAt)
		dispatch(ctx, alert, fileSink, slackSink, promRegistry, logger)
	}
}

func dispatch(ctx context.Context, alert alerts.Alert, fileSink *alerts.FileSink, slackSink *alerts.SlackSink, promRegistry *observ.PromRegistry, logger *observ.Logger) {
	if err := fileSink.Accept(ctx, alert); err != nil {
		logger.Error("alert_file_sink_failed", map[string]any{"error": err.Error()})
	}
	if slackSink != nil {
		if err := slackSink.Accept(ctx, alert); err != nil {
			logger.Warn("alert_slack_sink_failed", map[string]any{"error": err.Error()})
		}
	}
	observ.IncCounter("alerts_emitted_total", nil)
	promRegistry.AlertsEmitted.WithLabelValues(string(alert.Kind)).Inc()
}
