// Package supervisor wires the pipeline's components into one process,
// starting them in dependency order and draining them in reverse on
// shutdown (spec.md §4.9). Grounded on cmd/risk-demo/main.go's
// signal.Notify graceful-shutdown pattern and RiskManager's
// healthMonitoringLoop (internal/risk/manager.go) ticker-driven health
// poll, generalized from one monolithic manager into a set of named
// Component implementations the Supervisor drives generically.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/riftlabs/marketcore/internal/observ"
)

// Status is a Component's self-reported health.
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Health is one component's reported state at poll time.
type Health struct {
	Status Status
	Detail string
}

// Component is one independently startable, stoppable, pollable unit of
// the pipeline (a collector loop, the alert sink, the exposed health
// server, ...). Start must not block past its own setup — long-running
// work happens on goroutines Start launches and Stop's context cancels.
type Component struct {
	Name   string
	Start  func(ctx context.Context) error
	Stop   func(ctx context.Context) error
	Health func() Health

	// Restartable components get Start called again (after a fresh Stop)
	// when their Health reports Unhealthy for UnhealthyStreak consecutive
	// polls. Components with Restartable == false are monitored but never
	// auto-restarted (e.g. the exposed HTTP health/metrics server, whose
	// failure should surface rather than flap).
	Restartable bool

	failStreak int
	restarts   int
}

// Config controls health-poll cadence and restart bounds, mirroring
// spec.md §6.1's `supervisor` section.
type Config struct {
	DrainDeadline   time.Duration
	HealthPoll      time.Duration
	UnhealthyStreak int
	MaxRestarts     int
}

func DefaultConfig() Config {
	return Config{
		DrainDeadline:   10 * time.Second,
		HealthPoll:      60 * time.Second,
		UnhealthyStreak: 3,
		MaxRestarts:     5,
	}
}

// Supervisor starts Components in the order they were added, polls their
// health on an interval, restarts components that go persistently
// unhealthy (bounded by MaxRestarts), and drains everything in reverse
// order on shutdown.
type Supervisor struct {
	cfg        Config
	logger     *observ.Logger
	components []*Component
	mu         sync.Mutex
}

func New(cfg Config, logger *observ.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// Add registers a component. Components start in Add order and stop in
// reverse Add order, so register dependencies (sinks, repositories)
// before their dependents (schedulers, aggregators).
func (s *Supervisor) Add(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := c
	s.components = append(s.components, &cc)
}

// Run starts every component, blocks until ctx is canceled or a SIGINT /
// SIGTERM is received, then drains in reverse order within
// cfg.DrainDeadline. It returns the first start error, if any, without
// starting components registered after the failure.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, c := range s.components {
		if err := c.Start(runCtx); err != nil {
			s.logger.Error("component_start_failed", map[string]any{"component": c.Name, "error": err.Error()})
			s.drain(c.Name)
			return fmt.Errorf("supervisor: start %s: %w", c.Name, err)
		}
		s.logger.Info("component_started", map[string]any{"component": c.Name})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	pollInterval := s.cfg.HealthPoll
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			s.drainAll()
			return nil
		case sig := <-sigCh:
			s.logger.Info("shutdown_signal", map[string]any{"signal": sig.String()})
			cancel()
			s.drainAll()
			return nil
		case <-ticker.C:
			s.pollHealth(runCtx)
		}
	}
}

func (s *Supervisor) pollHealth(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components {
		if c.Health == nil {
			continue
		}
		h := c.Health()
		observ.SetGauge("component_health_status", float64(h.Status), map[string]string{"component": c.Name})
		if h.Status != Unhealthy {
			c.failStreak = 0
			continue
		}
		c.failStreak++
		s.logger.Warn("component_unhealthy", map[string]any{"component": c.Name, "detail": h.Detail, "streak": c.failStreak})
		if !c.Restartable || c.failStreak < s.cfg.UnhealthyStreak {
			continue
		}
		if c.restarts >= s.cfg.MaxRestarts {
			s.logger.Error("component_restart_limit_reached", map[string]any{"component": c.Name, "restarts": c.restarts})
			continue
		}
		s.restart(ctx, c)
	}
}

func (s *Supervisor) restart(ctx context.Context, c *Component) {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if c.Stop != nil {
		if err := c.Stop(stopCtx); err != nil {
			s.logger.Error("component_stop_failed", map[string]any{"component": c.Name, "error": err.Error()})
		}
	}
	if err := c.Start(ctx); err != nil {
		s.logger.Error("component_restart_failed", map[string]any{"component": c.Name, "error": err.Error()})
		return
	}
	c.restarts++
	c.failStreak = 0
	observ.IncCounter("component_restarts_total", map[string]string{"component": c.Name})
	s.logger.Info("component_restarted", map[string]any{"component": c.Name, "restarts": c.restarts})
}

// drainAll stops every started component in reverse order, each bounded
// by cfg.DrainDeadline.
func (s *Supervisor) drainAll() {
	s.mu.Lock()
	components := make([]*Component, len(s.components))
	copy(components, s.components)
	s.mu.Unlock()

	deadline := s.cfg.DrainDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if c.Stop == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		if err := c.Stop(ctx); err != nil {
			s.logger.Error("component_stop_failed", map[string]any{"component": c.Name, "error": err.Error()})
		} else {
			s.logger.Info("component_stopped", map[string]any{"component": c.Name})
		}
		cancel()
	}
}

// drain stops components up to (but not including) failedName, used when
// a later component fails to start and earlier ones must be unwound.
func (s *Supervisor) drain(failedName string) {
	s.mu.Lock()
	components := make([]*Component, len(s.components))
	copy(components, s.components)
	s.mu.Unlock()

	deadline := s.cfg.DrainDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	failedIdx := len(components)
	for i, c := range components {
		if c.Name == failedName {
			failedIdx = i
			break
		}
	}
	for i := failedIdx - 1; i >= 0; i-- {
		c := components[i]
		if c.Stop == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		_ = c.Stop(ctx)
		cancel()
	}
}
