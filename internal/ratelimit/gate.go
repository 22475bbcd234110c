// Package ratelimit implements the per-provider rate gate (C1): a token
// bucket admission control shared by every collection task targeting the
// same external provider.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrDeadlineExceeded is returned when a token could not be acquired before
// the caller's deadline elapsed.
var ErrDeadlineExceeded = errors.New("ratelimit: deadline exceeded before token acquired")

// Gate is a token bucket for one external provider. Capacity is the
// declared limit per window and the refill rate is capacity/window, as
// spec.md §4.1 requires.
type Gate struct {
	name    string
	limiter *rate.Limiter
}

// New creates a Gate with the given per-window limit, refilling continuously
// at limit/window and bursting up to limit tokens.
func New(name string, limit int, window time.Duration) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	perSecond := float64(limit) / window.Seconds()
	return &Gate{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSecond), limit),
	}
}

// Acquire blocks cooperatively until a token is available or until deadline
// elapses, whichever comes first. A zero deadline means "no deadline"
// (blocks on ctx alone).
func (g *Gate) Acquire(ctx context.Context, deadline time.Time) error {
	waitCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() == nil {
			// The parent context is still alive, so this was our
			// synthetic deadline firing, not caller cancellation.
			return ErrDeadlineExceeded
		}
		return ctx.Err()
	}
	return nil
}

// TryAcquire makes a single non-blocking attempt and reports whether a
// token was available. It never returns a "free" token: on failure the
// bucket is left exactly as it was.
func (g *Gate) TryAcquire() bool {
	return g.limiter.Allow()
}

// Name returns the provider name this gate admits requests for.
func (g *Gate) Name() string { return g.name }

// Tokens reports the current estimate of available tokens, for health/metrics.
func (g *Gate) Tokens() float64 {
	return g.limiter.TokensAt(time.Now())
}

// Registry holds one Gate per provider, shared across all tasks targeting
// that provider, matching spec.md §4.1's "shared across all tasks" rule.
type Registry struct {
	mu    sync.RWMutex
	gates map[string]*Gate
}

// NewRegistry creates an empty provider gate registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Register installs (or replaces) the gate for a provider.
func (r *Registry) Register(name string, limit int, window time.Duration) *Gate {
	g := New(name, limit, window)
	r.mu.Lock()
	r.gates[name] = g
	r.mu.Unlock()
	return g
}

// Get returns the gate for a provider, or nil if it was never registered.
func (r *Registry) Get(name string) *Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gates[name]
}
