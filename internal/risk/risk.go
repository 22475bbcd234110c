// Package risk implements the risk orchestrator (C7): validation, position
// sizing, stop-loss/take-profit, derived risk metrics, composite
// classification, and hard-limit checks, producing an approve/reject
// RiskAssessment for every AggregatedSignal. Grounded on the teacher's
// RiskManager.EvaluateDecision gate-chain shape (manager.go) and
// StopLossManager.CheckStopLoss's loss-pct/cooldown calculation
// (stoploss.go), collapsed from the teacher's many standing-position gates
// into the stateless per-signal pipeline spec.md §4.7 describes.
package risk

import (
	"fmt"
	"time"

	"github.com/riftlabs/marketcore/internal/signal"
)

// Level is the composite risk classification (spec.md §3).
type Level string

const (
	Low      Level = "LOW"
	Medium   Level = "MEDIUM"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

// Portfolio is the caller-supplied snapshot the orchestrator sizes against
// (spec.md §3's PortfolioState; owned by the caller, not persisted here).
type Portfolio struct {
	TotalEquity     float64
	CurrentDrawdown float64
	DailyPnL        float64
	Positions       map[string]float64    // assetId -> quantity, may be nil
	Cash            float64
	LastRejectionAt map[string]time.Time // assetId -> time of most recent rejection, may be nil
}

// Config mirrors spec.md §6.1's `risk` section.
type Config struct {
	MaxDrawdownLimit     float64 // default 0.20
	DailyLossLimit       float64 // default 0.05
	PerTradeStopLoss     float64 // default 0.02
	BasePositionPct      float64 // default 0.02
	MaxPositionSize      float64 // default 0.10 (fraction of equity)
	ConfidenceMultiplier float64 // default 1.8
	RiskRewardRatio      float64 // default 2.0
	CooldownPeriod       time.Duration // default 5m, like the other fields here
}

// DefaultConfig returns spec.md §4.7/§6.1's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDrawdownLimit:     0.20,
		DailyLossLimit:       0.05,
		PerTradeStopLoss:     0.02,
		BasePositionPct:      0.02,
		MaxPositionSize:      0.10,
		ConfidenceMultiplier: 1.8,
		RiskRewardRatio:      2.0,
		CooldownPeriod:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDrawdownLimit <= 0 {
		c.MaxDrawdownLimit = d.MaxDrawdownLimit
	}
	if c.DailyLossLimit <= 0 {
		c.DailyLossLimit = d.DailyLossLimit
	}
	if c.PerTradeStopLoss <= 0 {
		c.PerTradeStopLoss = d.PerTradeStopLoss
	}
	if c.BasePositionPct <= 0 {
		c.BasePositionPct = d.BasePositionPct
	}
	if c.MaxPositionSize <= 0 {
		c.MaxPositionSize = d.MaxPositionSize
	}
	if c.ConfidenceMultiplier <= 0 {
		c.ConfidenceMultiplier = d.ConfidenceMultiplier
	}
	if c.RiskRewardRatio <= 0 {
		c.RiskRewardRatio = d.RiskRewardRatio
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = d.CooldownPeriod
	}
	return c
}

// Assessment is the complete decision record (spec.md §3).
type Assessment struct {
	AssetId                string
	Direction              signal.Direction
	RecommendedPositionSize float64
	StopLossPrice          float64
	TakeProfitPrice        float64
	RiskRewardRatio        float64
	PositionRiskPct        float64
	PortfolioHeat          float64
	RiskLevel              Level
	Approved               bool
	RejectionReason        string
	Warnings               []string
	ProcessingTimeMs       float64
}

// Orchestrator runs the eight-step pipeline of spec.md §4.7.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator builds an Orchestrator with the given config, defaulted.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults()}
}

// Tightened returns a copy of the Orchestrator with its position-size and
// drawdown limits scaled down by mult, per the operator risk-tightening
// override ((0,1]; 1 or out-of-range is a no-op).
func (o *Orchestrator) Tightened(mult float64) *Orchestrator {
	if mult <= 0 || mult >= 1 {
		return o
	}
	cfg := o.cfg
	cfg.MaxPositionSize *= mult
	cfg.BasePositionPct *= mult
	cfg.MaxDrawdownLimit *= mult
	return &Orchestrator{cfg: cfg}
}

// Assess evaluates one AggregatedSignal against a Portfolio. It never
// panics outward: any failure in an individual step — including a
// recovered panic — yields a CRITICAL, unapproved Assessment, per spec.md
// §3 invariant 6.
func (o *Orchestrator) Assess(sig signal.AggregatedSignal, pf Portfolio, now time.Time) (result Assessment) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = criticalAssessment(sig, fmt.Sprintf("internal panic: %v", r))
		}
		result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	}()

	if err := validate(sig, pf); err != nil {
		return criticalAssessment(sig, err.Error())
	}

	if last, ok := pf.LastRejectionAt[string(sig.AssetId)]; ok && !last.IsZero() {
		if remaining := o.cfg.CooldownPeriod - now.Sub(last); remaining > 0 {
			return Assessment{
				AssetId:         string(sig.AssetId),
				Direction:       sig.Direction,
				RiskLevel:       Medium,
				Approved:        false,
				RejectionReason: fmt.Sprintf("asset in cooldown after prior rejection, %s remaining", remaining.Round(time.Second)),
			}
		}
	}

	size := o.positionSize(pf.TotalEquity, sig.Confidence)
	stop := o.stopLoss(sig.Direction, sig.Price)
	takeProfit := o.takeProfit(sig.Direction, sig.Price, stop)

	positionRiskPct := size * o.cfg.PerTradeStopLoss / pf.TotalEquity
	portfolioHeat := positionRiskPct + sumOpenPositionsHeat(pf)

	level := classify(positionRiskPct, portfolioHeat, pf.CurrentDrawdown)

	a := Assessment{
		AssetId:                string(sig.AssetId),
		Direction:              sig.Direction,
		RecommendedPositionSize: size,
		StopLossPrice:          stop,
		TakeProfitPrice:        takeProfit,
		RiskRewardRatio:        o.cfg.RiskRewardRatio,
		PositionRiskPct:        positionRiskPct,
		PortfolioHeat:          portfolioHeat,
		RiskLevel:              level,
		Approved:               true,
	}

	// projectedImpact is the capital committed by this trade as a fraction
	// of equity (the drawdown this position would add if fully lost),
	// distinct from positionRiskPct which is scaled by the stop distance.
	projectedImpact := size / pf.TotalEquity
	if pf.CurrentDrawdown+projectedImpact > o.cfg.MaxDrawdownLimit {
		a.Approved = false
		a.RejectionReason = fmt.Sprintf("projected drawdown %.4f exceeds limit %.4f", pf.CurrentDrawdown+projectedImpact, o.cfg.MaxDrawdownLimit)
	}
	if pf.DailyPnL-size*o.cfg.PerTradeStopLoss < -o.cfg.DailyLossLimit*pf.TotalEquity {
		a.Approved = false
		a.RejectionReason = appendReason(a.RejectionReason, "projected daily loss exceeds daily loss limit")
	}
	if size > o.cfg.MaxPositionSize*pf.TotalEquity {
		a.Approved = false
		a.RejectionReason = appendReason(a.RejectionReason, "position size exceeds max position size")
	}

	if !a.Approved && a.RiskLevel == Low {
		a.RiskLevel = High // hard-limit failure keeps level >= HIGH, per spec.md §4.7 step 7
	}
	if !a.Approved && a.RiskLevel == Medium {
		a.RiskLevel = High
	}

	return a
}

func appendReason(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}

func validate(sig signal.AggregatedSignal, pf Portfolio) error {
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return fmt.Errorf("signal confidence %.4f out of [0,1]", sig.Confidence)
	}
	if sig.Price <= 0 {
		return fmt.Errorf("signal price %.4f must be > 0", sig.Price)
	}
	if pf.TotalEquity <= 0 {
		return fmt.Errorf("portfolio equity %.4f must be > 0", pf.TotalEquity)
	}
	if pf.CurrentDrawdown < 0 || pf.CurrentDrawdown > 1 {
		return fmt.Errorf("portfolio drawdown %.4f out of [0,1]", pf.CurrentDrawdown)
	}
	for asset, qty := range pf.Positions {
		if qty < 0 {
			return fmt.Errorf("position %s has negative quantity %.4f", asset, qty)
		}
	}
	return nil
}

func criticalAssessment(sig signal.AggregatedSignal, reason string) Assessment {
	return Assessment{
		AssetId:         string(sig.AssetId),
		Direction:       sig.Direction,
		RiskLevel:       Critical,
		Approved:        false,
		RejectionReason: reason,
	}
}

// positionSize implements spec.md §4.7 step 2.
func (o *Orchestrator) positionSize(equity, confidence float64) float64 {
	size := equity * o.cfg.BasePositionPct * (1 + (confidence-0.5)*o.cfg.ConfidenceMultiplier)
	minSize := 0.0
	maxSize := o.cfg.MaxPositionSize * equity
	if size < minSize {
		size = minSize
	}
	if size > maxSize {
		size = maxSize
	}
	return size
}

// stopLoss implements spec.md §4.7 step 3.
func (o *Orchestrator) stopLoss(dir signal.Direction, price float64) float64 {
	if dir == signal.Long {
		return price * (1 - o.cfg.PerTradeStopLoss)
	}
	return price * (1 + o.cfg.PerTradeStopLoss)
}

// takeProfit implements spec.md §4.7 step 4: symmetric at RR*stopLossPct
// from price.
func (o *Orchestrator) takeProfit(dir signal.Direction, price, stop float64) float64 {
	stopDistance := price - stop
	if dir == signal.Short {
		stopDistance = stop - price
	}
	tpDistance := o.cfg.RiskRewardRatio * stopDistance
	if dir == signal.Long {
		return price + tpDistance
	}
	return price - tpDistance
}

func sumOpenPositionsHeat(pf Portfolio) float64 {
	// Extension point: spec.md §4.7 step 5 allows portfolioHeat to sum
	// across open positions when the caller supplies their risk
	// contribution; this core does not track per-position risk budgets
	// itself (that lives outside the collection/signal/risk core), so the
	// contribution here is zero by default.
	return 0
}

// classify implements spec.md §4.7 step 6's composite scoring.
func classify(positionRiskPct, portfolioHeat, drawdown float64) Level {
	composite := (positionRiskPct + portfolioHeat + drawdown) * 100
	switch {
	case composite <= 8:
		return Low
	case composite <= 12:
		return Medium
	case composite <= 18:
		return High
	default:
		return Critical
	}
}
