// Package retry implements the exponential-backoff-with-jitter policy and
// the error classification rules of spec.md §4.2 / §7.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Kind classifies an error for retry purposes, per spec.md §7.
type Kind string

const (
	Transient  Kind = "TRANSIENT"
	RateLimit  Kind = "RATE_LIMITED"
	Validation Kind = "VALIDATION"
	ConfigKind Kind = "CONFIG"
	Limit      Kind = "LIMIT"
	Internal   Kind = "INTERNAL"
)

// Retryable reports whether a classified kind should be retried at all.
func (k Kind) Retryable() bool {
	return k == Transient || k == RateLimit
}

// Config holds the backoff policy parameters; zero values fall back to the
// spec's documented defaults.
type Config struct {
	Base        time.Duration // default 1s
	Factor      float64       // default 2
	Cap         time.Duration // default 60s
	MaxAttempts int           // default 3
}

// DefaultConfig returns spec.md §4.2's documented defaults.
func DefaultConfig() Config {
	return Config{Base: time.Second, Factor: 2, Cap: 60 * time.Second, MaxAttempts: 3}
}

// WithDefaults backfills zero-valued fields with spec.md §4.2's defaults.
func (c Config) WithDefaults() Config { return c.withDefaults() }

func (c Config) withDefaults() Config {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2
	}
	if c.Cap <= 0 {
		c.Cap = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Delay computes delay(attempt) = min(base * factor^attempt, cap) + jitter,
// with jitter drawn uniformly from [0, delay/2). attempt is zero-based (the
// first retry is attempt=0).
func Delay(attempt int, cfg Config) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	raw := float64(cfg.Base) * math.Pow(cfg.Factor, float64(attempt))
	capped := math.Min(raw, float64(cfg.Cap))
	jitter := rand.Float64() * (capped / 2)
	return time.Duration(capped + jitter)
}

// ClassifiedError pairs an underlying error with its retry classification
// and any provider-suggested retry-after hint.
type ClassifiedError struct {
	Kind       Kind
	RetryAfter time.Duration // zero if the provider gave no hint
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassified wraps err with a classification.
func NewClassified(kind Kind, retryAfter time.Duration, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, RetryAfter: retryAfter, Err: err}
}

// Classify extracts the Kind from err if it is (or wraps) a
// *ClassifiedError, and otherwise conservatively treats an unrecognized
// error as Internal (never silently retried forever).
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// RetryAfter extracts a provider-suggested delay if present.
func RetryAfter(err error) (time.Duration, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// NextDelay picks the provider-hinted delay when present (RATE_LIMITED with
// a server hint), falling back to the exponential backoff schedule.
func NextDelay(attempt int, cfg Config, err error) time.Duration {
	if d, ok := RetryAfter(err); ok {
		return d
	}
	return Delay(attempt, cfg)
}
