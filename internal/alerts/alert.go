// Package alerts implements the alert generator (C8): composing structured
// alert records from approved risk assessments and strategy-reported
// volatility spikes, and two AlertSink reference implementations — a
// file-based sink grounded on the teacher's outbox.Outbox append-only
// store (internal/outbox/outbox.go), and a Slack webhook sink adapted from
// the teacher's SlackClient (internal/alerts/slack.go): bounded queue,
// dedupe cache, per-symbol rate limiting.
package alerts

import (
	"context"
	"time"

	"github.com/riftlabs/marketcore/internal/risk"
	"github.com/riftlabs/marketcore/internal/strategy"
)

// Kind is the alert discriminator (spec.md §3/§6.3).
type Kind string

const (
	VolatilitySpike Kind = "VOLATILITY_SPIKE"
	Signal          Kind = "SIGNAL"
)

const schemaVersion = 1

// Alert is the stable wire record, per spec.md §6.3.
type Alert struct {
	SchemaVersion int            `json:"schemaVersion"`
	Timestamp     int64          `json:"timestamp"`
	Kind          Kind           `json:"kind"`
	Asset         string         `json:"asset"`
	Payload       map[string]any `json:"payload"`
	FileRef       string         `json:"fileRef,omitempty"`
}

// Sink is the out-of-scope external collaborator the generator hands
// complete alert records to (spec.md §6.4). The core never awaits
// downstream delivery.
type Sink interface {
	Accept(ctx context.Context, a Alert) error
}

// Generator composes Alert records; it is stateless (spec.md §4.8).
type Generator struct{}

// NewGenerator constructs a stateless Generator.
func NewGenerator() *Generator { return &Generator{} }

// FromAssessment builds a SIGNAL alert from an approved RiskAssessment,
// filling in the payload fields spec.md §4.8 documents that Assessment
// alone does not carry (entry price, confidence, contributing strategies).
// Callers should not call this for rejected assessments — spec.md §7
// "alerts are not emitted for rejected assessments".
func (g *Generator) FromAssessment(a risk.Assessment, price, confidence float64, contributingStrategies []string, now time.Time) Alert {
	return Alert{
		SchemaVersion: schemaVersion,
		Timestamp:     now.UnixMilli(),
		Kind:          Signal,
		Asset:         a.AssetId,
		Payload: map[string]any{
			"assetId":                a.AssetId,
			"direction":              string(a.Direction),
			"price":                  price,
			"confidence":             confidence,
			"positionSize":           a.RecommendedPositionSize,
			"stopLoss":               a.StopLossPrice,
			"takeProfit":             a.TakeProfitPrice,
			"contributingStrategies": contributingStrategies,
			"riskLevel":              string(a.RiskLevel),
		},
	}
}

// FromVolatilitySpike builds a VOLATILITY_SPIKE alert from a strategy's
// reported spike.
func (g *Generator) FromVolatilitySpike(s strategy.VolatilitySpike, now time.Time) Alert {
	return Alert{
		SchemaVersion: schemaVersion,
		Timestamp:     now.UnixMilli(),
		Kind:          VolatilitySpike,
		Asset:         string(s.AssetId),
		Payload: map[string]any{
			"assetId":           s.AssetId,
			"price":             s.Price,
			"volatility":        s.Volatility,
			"percentile":        s.Percentile,
			"thresholdExceeded": s.ThresholdExceeded,
		},
	}
}
