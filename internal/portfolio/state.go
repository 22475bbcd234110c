// Package portfolio holds the PortfolioState the caller supplies to the
// risk orchestrator (spec.md §3: "Supplied by caller; not owned"), plus an
// atomic-persistence Manager reference implementation so cmd/marketsignal
// has something concrete to load on startup and update between ticks.
// Grounded on the teacher's portfolio.Manager atomic temp-file+rename
// persistence (internal/portfolio/state.go), trimmed to the fields
// spec.md §3 actually names — the teacher's richer per-symbol cost-basis
// and exposure tracking is out of this core's scope (spec.md §1 Non-goals:
// "portfolio accounting beyond equity/drawdown inputs").
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/riftlabs/marketcore/internal/risk"
)

// State is the persisted snapshot backing risk.Portfolio.
type State struct {
	TotalEquity     float64              `json:"totalEquity"`
	CurrentDrawdown float64              `json:"currentDrawdown"`
	DailyPnL        float64              `json:"dailyPnL"`
	Positions       map[string]float64   `json:"positions"`
	Cash            float64              `json:"cash"`
	LastUpdated     time.Time            `json:"lastUpdated"`
	LastRejectionAt map[string]time.Time `json:"lastRejectionAt"`
}

// ToRiskPortfolio adapts State into the shape risk.Orchestrator.Assess
// consumes.
func (s State) ToRiskPortfolio() risk.Portfolio {
	return risk.Portfolio{
		TotalEquity:     s.TotalEquity,
		CurrentDrawdown: s.CurrentDrawdown,
		DailyPnL:        s.DailyPnL,
		Positions:       s.Positions,
		Cash:            s.Cash,
		LastRejectionAt: s.LastRejectionAt,
	}
}

// Manager owns one State, persisted atomically to filePath.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	state    State
}

// NewManager constructs a Manager seeded with startingEquity if no prior
// state file exists.
func NewManager(filePath string, startingEquity float64) *Manager {
	return &Manager{
		filePath: filePath,
		state: State{
			TotalEquity:     startingEquity,
			Positions:       make(map[string]float64),
			LastRejectionAt: make(map[string]time.Time),
		},
	}
}

// Load reads the persisted state, seeding a fresh one if the file does not
// exist yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if os.IsNotExist(err) {
		return m.saveUnsafe()
	}
	if err != nil {
		return fmt.Errorf("portfolio: read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("portfolio: decode state: %w", err)
	}
	if s.Positions == nil {
		s.Positions = make(map[string]float64)
	}
	if s.LastRejectionAt == nil {
		s.LastRejectionAt = make(map[string]time.Time)
	}
	m.state = s
	return nil
}

// Save atomically persists the current state via temp-file-then-rename.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnsafe()
}

func (m *Manager) saveUnsafe() error {
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("portfolio: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".portfolio-state-*.tmp")
	if err != nil {
		return fmt.Errorf("portfolio: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.filePath)
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	positions := make(map[string]float64, len(m.state.Positions))
	for k, v := range m.state.Positions {
		positions[k] = v
	}
	rejections := make(map[string]time.Time, len(m.state.LastRejectionAt))
	for k, v := range m.state.LastRejectionAt {
		rejections[k] = v
	}
	s := m.state
	s.Positions = positions
	s.LastRejectionAt = rejections
	return s
}

// RecordRejection remembers that assetId was rejected by the risk
// orchestrator at the given time, so the next tick's cooldown gate
// (risk.Orchestrator.Assess) can hold off on re-evaluating it too soon.
func (m *Manager) RecordRejection(assetId string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.LastRejectionAt == nil {
		m.state.LastRejectionAt = make(map[string]time.Time)
	}
	m.state.LastRejectionAt[assetId] = at
	return m.saveUnsafe()
}

// ApplyFill updates equity, drawdown, and positions after an external
// executor reports a fill. The core itself never executes orders
// (spec.md §1 Non-goals: "order execution") — this is the boundary where
// an external caller informs the risk pipeline's next assessment.
func (m *Manager) ApplyFill(assetId string, deltaQty, equityAfter, drawdownAfter, dailyPnLAfter float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Positions[assetId] += deltaQty
	m.state.TotalEquity = equityAfter
	m.state.CurrentDrawdown = drawdownAfter
	m.state.DailyPnL = dailyPnLAfter
	m.state.LastUpdated = now
	return m.saveUnsafe()
}
