package collector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/marketcore/internal/market"
	"github.com/riftlabs/marketcore/internal/ratelimit"
	"github.com/riftlabs/marketcore/internal/retry"
)

type scriptedSource struct {
	calls int
	errs  []error
	bars  []market.OHLCVBar
}

func (s *scriptedSource) Fetch(context.Context, market.AssetId, market.Window) ([]market.OHLCVBar, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.bars, nil
}

type recordingRepo struct {
	upserted []market.OHLCVBar
	failN    int // fail the first failN calls
	calls    int
}

func (r *recordingRepo) UpsertBars(_ context.Context, bars []market.OHLCVBar) (int, error) {
	r.calls++
	if r.calls <= r.failN {
		return 0, retry.NewClassified(retry.Transient, 0, fmt.Errorf("db down"))
	}
	r.upserted = append(r.upserted, bars...)
	return len(bars), nil
}

func (r *recordingRepo) GetSnapshot(context.Context, []market.AssetId, market.Window) (market.MarketSnapshot, error) {
	return market.MarketSnapshot{}, nil
}

func bar(id market.AssetId, ts int64) market.OHLCVBar {
	return market.OHLCVBar{AssetId: id, Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
}

func TestRun_SuccessUpsertsValidBarsOnly(t *testing.T) {
	source := &scriptedSource{bars: []market.OHLCVBar{
		bar("bitcoin", 0),
		{AssetId: "bitcoin", Timestamp: 1, Open: 10, High: 5, Low: 20, Close: 10, Volume: 1}, // invariant violated
	}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Tier: market.HighFrequency, Provider: "coingecko"},
		900*time.Second, source, repo, gate, retry.DefaultConfig())

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.BarsUpserted)
	assert.Equal(t, 1, outcome.GapsDetected)
	require.Len(t, repo.upserted, 1)
}

func TestRun_RetriesTransientFetchErrorsThenSucceeds(t *testing.T) {
	transient := retry.NewClassified(retry.Transient, 0, fmt.Errorf("timeout"))
	source := &scriptedSource{errs: []error{transient, nil}, bars: []market.OHLCVBar{bar("bitcoin", 0)}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)
	cfg := retry.Config{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 3}

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, cfg)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, source.calls)
}

func TestRun_GivesUpImmediatelyOnNonRetryableError(t *testing.T) {
	validationErr := retry.NewClassified(retry.Validation, 0, fmt.Errorf("bad symbol"))
	source := &scriptedSource{errs: []error{validationErr}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, retry.DefaultConfig())

	assert.False(t, outcome.Success)
	assert.Equal(t, retry.Validation, outcome.ErrorKind)
	assert.Equal(t, 1, source.calls) // non-retryable, no second attempt
}

func TestRun_ExhaustsRetriesOnPersistentTransientError(t *testing.T) {
	transient := retry.NewClassified(retry.Transient, 0, fmt.Errorf("still down"))
	source := &scriptedSource{errs: []error{transient, transient, transient}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)
	cfg := retry.Config{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 3}

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, cfg)

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, retry.Transient, outcome.ErrorKind)
}

func TestRun_RetriesOnRepositoryUpsertFailure(t *testing.T) {
	source := &scriptedSource{bars: []market.OHLCVBar{bar("bitcoin", 0)}}
	repo := &recordingRepo{failN: 1}
	gate := ratelimit.New("coingecko", 1000, time.Second)
	cfg := retry.Config{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 3}

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, cfg)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, repo.calls)
}

func TestRun_BootstrapWindowUsedWhenNoPriorSuccess(t *testing.T) {
	source := &scriptedSource{bars: []market.OHLCVBar{bar("bitcoin", 0)}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)

	outcome := Run(context.Background(), Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, retry.DefaultConfig())

	assert.True(t, outcome.Success)
}

func TestRun_HonorsCancelledContext(t *testing.T) {
	source := &scriptedSource{bars: []market.OHLCVBar{bar("bitcoin", 0)}}
	repo := &recordingRepo{}
	gate := ratelimit.New("coingecko", 1000, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := Run(ctx, Task{AssetId: "bitcoin", Provider: "coingecko"}, time.Minute, source, repo, gate, retry.DefaultConfig())

	assert.False(t, outcome.Success)
	assert.True(t, outcome.TimedOut || outcome.Canceled)
}
