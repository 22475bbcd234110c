package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_CapsAtConfiguredCeiling(t *testing.T) {
	cfg := Config{Base: time.Second, Factor: 2, Cap: 5 * time.Second, MaxAttempts: 5}

	for attempt := 0; attempt < 10; attempt++ {
		d := Delay(attempt, cfg)
		assert.LessOrEqual(t, d, cfg.Cap+cfg.Cap/2)
	}
}

func TestDelay_GrowsExponentiallyBeforeHittingCap(t *testing.T) {
	cfg := Config{Base: time.Second, Factor: 2, Cap: time.Hour, MaxAttempts: 5}

	d0 := Delay(0, cfg)
	d1 := Delay(1, cfg)

	// jitter adds up to (but never reaches) 50%, so attempt 1's floor (2s)
	// is never below attempt 0's ceiling (1.5s).
	assert.GreaterOrEqual(t, float64(d1), float64(2*time.Second))
	assert.Less(t, float64(d0), float64(1.5*time.Second)+float64(time.Millisecond))
}

func TestConfig_WithDefaultsBackfillsZeroFields(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, time.Second, cfg.Base)
	assert.Equal(t, 2.0, cfg.Factor)
	assert.Equal(t, 60*time.Second, cfg.Cap)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, Transient.Retryable())
	assert.True(t, RateLimit.Retryable())
	assert.False(t, Validation.Retryable())
	assert.False(t, ConfigKind.Retryable())
	assert.False(t, Internal.Retryable())
}

func TestClassify_UnwrapsClassifiedErrorOrDefaultsToInternal(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", NewClassified(Transient, 0, fmt.Errorf("timeout")))
	assert.Equal(t, Transient, Classify(wrapped))
	assert.Equal(t, Internal, Classify(fmt.Errorf("plain error")))
	assert.Equal(t, Kind(""), Classify(nil))
}

func TestRetryAfter_ExtractsProviderHint(t *testing.T) {
	err := NewClassified(RateLimit, 30*time.Second, fmt.Errorf("rate limited"))
	d, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = RetryAfter(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestNextDelay_PrefersProviderHintOverBackoffSchedule(t *testing.T) {
	err := NewClassified(RateLimit, 45*time.Second, fmt.Errorf("rate limited"))
	cfg := DefaultConfig()

	d := NextDelay(0, cfg, err)

	assert.Equal(t, 45*time.Second, d)
}
