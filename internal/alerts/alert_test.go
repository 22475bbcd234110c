package alerts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/marketcore/internal/risk"
	"github.com/riftlabs/marketcore/internal/signal"
	"github.com/riftlabs/marketcore/internal/strategy"
)

func approvedAssessment() risk.Assessment {
	return risk.Assessment{
		AssetId:                 "bitcoin",
		Direction:               signal.Long,
		RecommendedPositionSize: 3080,
		StopLossPrice:           49000,
		TakeProfitPrice:         52000,
		RiskRewardRatio:         2.0,
		RiskLevel:               risk.Low,
		Approved:                true,
	}
}

// Scenario F — alert round-trip.
func TestFromAssessment_RoundTripsThroughJSON(t *testing.T) {
	g := NewGenerator()
	now := time.Unix(1700000000, 0)
	a := g.FromAssessment(approvedAssessment(), 50000, 0.8, []string{"momentum"}, now)

	assert.Equal(t, Signal, a.Kind)
	assert.Equal(t, "bitcoin", a.Asset)
	assert.Equal(t, 1, a.SchemaVersion)
	assert.Equal(t, "LONG", a.Payload["direction"])
	assert.Equal(t, 3080.0, a.Payload["positionSize"])
	assert.Equal(t, 49000.0, a.Payload["stopLoss"])
	assert.Equal(t, 52000.0, a.Payload["takeProfit"])
	assert.Equal(t, "LOW", a.Payload["riskLevel"])

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var back Alert
	require.NoError(t, json.Unmarshal(data, &back))

	// Re-marshal rather than compare structs directly: JSON round-tripping
	// turns Payload's []string into []interface{}, which is a wire-format
	// artifact, not a semantic difference.
	roundTripped, err := json.Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(roundTripped))
}

func TestFromVolatilitySpike_Payload(t *testing.T) {
	g := NewGenerator()
	now := time.Unix(1700000000, 0)
	spike := strategy.VolatilitySpike{
		AssetId:           "ethereum",
		Price:             3000,
		Volatility:        0.45,
		Percentile:        0.97,
		ThresholdExceeded: 0.95,
	}

	a := g.FromVolatilitySpike(spike, now)

	assert.Equal(t, VolatilitySpike, a.Kind)
	assert.Equal(t, "ethereum", a.Asset)
	assert.Equal(t, now.UnixMilli(), a.Timestamp)
}
