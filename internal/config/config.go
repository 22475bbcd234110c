// Package config loads and defaults the pipeline's configuration, per
// spec.md §6.1: parsed once at startup, validated, then immutable —
// components receive only the subsections they need. Grounded on the
// teacher's config.Root/config.Load (yaml.v3 unmarshal + zero-value
// defaulting), generalized from the teacher's single flat trading-app
// config into the tiers/assets/providers/strategies/aggregation/risk/
// supervisor sections spec.md §6.1 enumerates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TierConfig maps a tier name to its collection interval.
type TierConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// AssetConfig is one {assetId, tier, provider} assignment.
type AssetConfig struct {
	AssetId  string `yaml:"asset_id"`
	Tier     string `yaml:"tier"`
	Provider string `yaml:"provider"`
}

// ProviderConfig declares one external provider's rate limit.
type ProviderConfig struct {
	Name               string `yaml:"name"`
	RateLimitPerWindow int    `yaml:"rate_limit_per_window"`
	WindowSeconds      int    `yaml:"window_seconds"`
}

// StrategyConfig declares one strategy's enablement and parameters.
type StrategyConfig struct {
	Name    string         `yaml:"name"`
	Enabled bool           `yaml:"enabled"`
	Weight  float64        `yaml:"weight"`
	Params  map[string]any `yaml:"params"`
}

// AggregationConfig mirrors spec.md §6.1's `aggregation` section.
type AggregationConfig struct {
	ConsensusThreshold     float64 `yaml:"consensus_threshold"`
	MinConfidenceThreshold float64 `yaml:"min_confidence_threshold"`
	SignalTtlSeconds       int     `yaml:"signal_ttl_seconds"`
}

// RiskConfig mirrors spec.md §6.1's `risk` section.
type RiskConfig struct {
	MaxDrawdownLimit     float64 `yaml:"max_drawdown_limit"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`
	PerTradeStopLoss     float64 `yaml:"per_trade_stop_loss"`
	BasePositionPct      float64 `yaml:"base_position_pct"`
	MaxPositionSize      float64 `yaml:"max_position_size"`
	ConfidenceMultiplier float64 `yaml:"confidence_multiplier"`
	RiskRewardRatio      float64 `yaml:"risk_reward_ratio"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
}

// SupervisorConfig mirrors spec.md §6.1's `supervisor` section.
type SupervisorConfig struct {
	DrainDeadlineSeconds int `yaml:"drain_deadline_seconds"`
	HealthPollSeconds    int `yaml:"health_poll_seconds"`
	UnhealthyStreak      int `yaml:"unhealthy_streak"`
	MaxRestarts          int `yaml:"max_restarts"`
}

// CollectionConfig holds the scheduler-wide tunables not otherwise covered
// by tiers/providers (disable threshold, worker pool size, retry policy).
type CollectionConfig struct {
	DisableThreshold int `yaml:"disable_threshold"`
	WorkerPoolSize   int `yaml:"worker_pool_size"`
	RetryBaseMs      int `yaml:"retry_base_ms"`
	RetryFactor      float64 `yaml:"retry_factor"`
	RetryCapMs       int `yaml:"retry_cap_ms"`
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
}

// StrategyHarnessConfig configures the strategy execution pool.
type StrategyHarnessConfig struct {
	PoolSize        int `yaml:"pool_size"`
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

// Root is the fully parsed, defaulted, immutable configuration tree.
type Root struct {
	Tiers       map[string]TierConfig   `yaml:"tiers"`
	Assets      []AssetConfig           `yaml:"assets"`
	Providers   []ProviderConfig        `yaml:"providers"`
	Strategies  []StrategyConfig        `yaml:"strategies"`
	Aggregation AggregationConfig       `yaml:"aggregation"`
	Risk        RiskConfig              `yaml:"risk"`
	Supervisor  SupervisorConfig        `yaml:"supervisor"`
	Collection  CollectionConfig        `yaml:"collection"`
	Harness     StrategyHarnessConfig   `yaml:"harness"`

	AlertsDir         string `yaml:"alerts_dir"`
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	SchedulerStatePath string `yaml:"scheduler_state_path"`
	PortfolioStatePath string `yaml:"portfolio_state_path"`
	OverridesPath      string `yaml:"overrides_path"`
	DatabasePath       string `yaml:"database_path"`
	MetricsAddr        string `yaml:"metrics_addr"`
}

// Load reads, parses, and defaults the configuration at path. Any failure
// to load at startup is a CONFIG-kind error — fatal to the process per
// spec.md §7.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, fmt.Errorf("config: validate: %w", err)
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Tiers == nil {
		c.Tiers = map[string]TierConfig{}
	}
	defaultTier := func(name string, seconds int) {
		if t, ok := c.Tiers[name]; !ok || t.IntervalSeconds <= 0 {
			c.Tiers[name] = TierConfig{IntervalSeconds: seconds}
		}
	}
	defaultTier("HIGH_FREQUENCY", 900)
	defaultTier("HOURLY", 3600)
	defaultTier("DAILY", 86400)

	if c.Aggregation.ConsensusThreshold <= 0 {
		c.Aggregation.ConsensusThreshold = 0.6
	}
	if c.Aggregation.MinConfidenceThreshold <= 0 {
		c.Aggregation.MinConfidenceThreshold = 0.1
	}
	if c.Aggregation.SignalTtlSeconds <= 0 {
		c.Aggregation.SignalTtlSeconds = 86400
	}

	if c.Risk.MaxDrawdownLimit <= 0 {
		c.Risk.MaxDrawdownLimit = 0.20
	}
	if c.Risk.DailyLossLimit <= 0 {
		c.Risk.DailyLossLimit = 0.05
	}
	if c.Risk.PerTradeStopLoss <= 0 {
		c.Risk.PerTradeStopLoss = 0.02
	}
	if c.Risk.BasePositionPct <= 0 {
		c.Risk.BasePositionPct = 0.02
	}
	if c.Risk.MaxPositionSize <= 0 {
		c.Risk.MaxPositionSize = 0.10
	}
	if c.Risk.ConfidenceMultiplier <= 0 {
		c.Risk.ConfidenceMultiplier = 1.8
	}
	if c.Risk.RiskRewardRatio <= 0 {
		c.Risk.RiskRewardRatio = 2.0
	}
	if c.Risk.CooldownSeconds <= 0 {
		c.Risk.CooldownSeconds = 300
	}

	if c.Supervisor.DrainDeadlineSeconds <= 0 {
		c.Supervisor.DrainDeadlineSeconds = 10
	}
	if c.Supervisor.HealthPollSeconds <= 0 {
		c.Supervisor.HealthPollSeconds = 60
	}
	if c.Supervisor.UnhealthyStreak <= 0 {
		c.Supervisor.UnhealthyStreak = 3
	}
	if c.Supervisor.MaxRestarts <= 0 {
		c.Supervisor.MaxRestarts = 5
	}

	if c.Collection.DisableThreshold <= 0 {
		c.Collection.DisableThreshold = 10
	}
	if c.Collection.WorkerPoolSize <= 0 {
		c.Collection.WorkerPoolSize = 8
	}
	if c.Collection.RetryBaseMs <= 0 {
		c.Collection.RetryBaseMs = 1000
	}
	if c.Collection.RetryFactor <= 0 {
		c.Collection.RetryFactor = 2
	}
	if c.Collection.RetryCapMs <= 0 {
		c.Collection.RetryCapMs = 60000
	}
	if c.Collection.RetryMaxAttempts <= 0 {
		c.Collection.RetryMaxAttempts = 3
	}

	if c.Harness.PoolSize <= 0 {
		c.Harness.PoolSize = 4
	}
	if c.Harness.DeadlineSeconds <= 0 {
		c.Harness.DeadlineSeconds = 5
	}

	if c.AlertsDir == "" {
		c.AlertsDir = "./data/alerts"
	}
	if c.SchedulerStatePath == "" {
		c.SchedulerStatePath = "./data/scheduler_state.json"
	}
	if c.PortfolioStatePath == "" {
		c.PortfolioStatePath = "./data/portfolio_state.json"
	}
	if c.OverridesPath == "" {
		c.OverridesPath = "./data/overrides.json"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/marketcore.db"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

func (c Root) validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("no assets configured")
	}
	seen := map[string]bool{}
	for _, a := range c.Assets {
		if a.AssetId == "" {
			return fmt.Errorf("asset with empty asset_id")
		}
		if seen[a.AssetId] {
			return fmt.Errorf("duplicate asset_id %q", a.AssetId)
		}
		seen[a.AssetId] = true
		if _, ok := c.Tiers[a.Tier]; !ok {
			return fmt.Errorf("asset %q references undefined tier %q", a.AssetId, a.Tier)
		}
		if a.Provider == "" {
			return fmt.Errorf("asset %q has no provider", a.AssetId)
		}
	}
	return nil
}

// TierInterval returns the configured interval for a tier name as a
// time.Duration.
func (c Root) TierInterval(tier string) time.Duration {
	if t, ok := c.Tiers[tier]; ok {
		return time.Duration(t.IntervalSeconds) * time.Second
	}
	return time.Hour
}
