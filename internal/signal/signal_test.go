package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/marketcore/internal/market"
)

func TestNew_AssignsIdAndValidatesInvariants(t *testing.T) {
	s, err := New("momentum", "bitcoin", Long, 50000, 0.8, time.Unix(0, 0))

	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, market.AssetId("bitcoin"), s.AssetId)
}

func TestNew_RejectsNonPositivePrice(t *testing.T) {
	_, err := New("momentum", "bitcoin", Long, 0, 0.5, time.Unix(0, 0))
	assert.Error(t, err)
}

func TestNew_RejectsOutOfRangeConfidence(t *testing.T) {
	_, err := New("momentum", "bitcoin", Long, 100, 1.5, time.Unix(0, 0))
	assert.Error(t, err)

	_, err = New("momentum", "bitcoin", Long, 100, -0.1, time.Unix(0, 0))
	assert.Error(t, err)
}

func TestNew_RejectsInvalidDirection(t *testing.T) {
	_, err := New("momentum", "bitcoin", Direction("SIDEWAYS"), 100, 0.5, time.Unix(0, 0))
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	s, err := New("momentum", "bitcoin", Long, 100, 0.5, time.Unix(1000, 0))
	require.NoError(t, err)

	assert.False(t, s.Expired(time.Unix(1000, 0).Add(30*time.Second), time.Minute))
	assert.True(t, s.Expired(time.Unix(1000, 0).Add(2*time.Minute), time.Minute))
}

func TestNew_EachCallGetsAUniqueId(t *testing.T) {
	a, err := New("momentum", "bitcoin", Long, 100, 0.5, time.Unix(0, 0))
	require.NoError(t, err)
	b, err := New("momentum", "bitcoin", Long, 100, 0.5, time.Unix(0, 0))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}
