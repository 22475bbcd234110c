package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/riftlabs/marketcore/internal/market"
)

const stateVersion = 1

// persistedTask mirrors spec.md §6.2's task record shape.
type persistedTask struct {
	AssetId             market.AssetId `json:"assetId"`
	Tier                market.Tier    `json:"tier"`
	Provider            string         `json:"provider"`
	State               State          `json:"state"`
	LastSuccessAt       time.Time      `json:"lastSuccessAt"`
	NextFireAt          time.Time      `json:"nextFireAt"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	Successes           int64          `json:"successes"`
	Failures            int64          `json:"failures"`
}

type persistedMetrics struct {
	ApiCallsToday int    `json:"apiCallsToday"`
	LastResetDate string `json:"lastResetDate"`
}

// persistedState is the on-disk record, per spec.md §6.2.
type persistedState struct {
	Version     int                        `json:"version"`
	LastUpdated time.Time                  `json:"lastUpdated"`
	Tasks       []persistedTask            `json:"tasks"`
	Metrics     persistedMetrics           `json:"metrics"`
	Unknown     map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges the known fields with any unrecognized top-level keys
// carried from a prior read, satisfying spec.md §6.2's forward-compatibility
// requirement.
func (s persistedState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Unknown)+4)
	for k, v := range s.Unknown {
		out[k] = v
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := set("version", s.Version); err != nil {
		return nil, err
	}
	if err := set("lastUpdated", s.LastUpdated); err != nil {
		return nil, err
	}
	if err := set("tasks", s.Tasks); err != nil {
		return nil, err
	}
	if err := set("metrics", s.Metrics); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (s *persistedState) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{"version": true, "lastUpdated": true, "tasks": true, "metrics": true}
	s.Unknown = map[string]json.RawMessage{}
	for k, v := range raw {
		if known[k] {
			continue
		}
		s.Unknown[k] = v
	}
	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &s.Version)
	}
	if v, ok := raw["lastUpdated"]; ok {
		_ = json.Unmarshal(v, &s.LastUpdated)
	}
	if v, ok := raw["tasks"]; ok {
		_ = json.Unmarshal(v, &s.Tasks)
	}
	if v, ok := raw["metrics"]; ok {
		_ = json.Unmarshal(v, &s.Metrics)
	}
	return nil
}

// Store persists scheduler state atomically, grounded on the teacher's
// portfolio.Manager.saveUnsafe temp-file+rename pattern
// (internal/portfolio/state.go).
type Store struct {
	path    string
	unknown map[string]json.RawMessage // unrecognized top-level fields from the last Load
}

// NewStore targets path for persistence; the containing directory is
// created on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and unmarshals the persisted state. A missing file is not an
// error: it reports zero tasks, matching the "first run with no prior
// state" boundary behavior from spec.md §8.
func (st *Store) Load() ([]*CollectionTask, persistedMetrics, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return nil, persistedMetrics{}, nil
	}
	if err != nil {
		return nil, persistedMetrics{}, fmt.Errorf("scheduler: read state: %w", err)
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, persistedMetrics{}, fmt.Errorf("scheduler: decode state: %w", err)
	}
	st.unknown = ps.Unknown

	tasks := make([]*CollectionTask, 0, len(ps.Tasks))
	for _, pt := range ps.Tasks {
		tasks = append(tasks, &CollectionTask{
			AssetId:             pt.AssetId,
			Tier:                pt.Tier,
			Provider:            pt.Provider,
			State:               pt.State,
			LastSuccessAt:       pt.LastSuccessAt,
			NextFireAt:          pt.NextFireAt,
			ConsecutiveFailures: pt.ConsecutiveFailures,
			Successes:           pt.Successes,
			Failures:            pt.Failures,
		})
	}
	return tasks, ps.Metrics, nil
}

// Save atomically persists tasks via a temp-file-then-rename, preserving
// any unrecognized top-level fields read by the most recent Load.
func (st *Store) Save(tasks []*CollectionTask, metrics persistedMetrics, now time.Time, unknown map[string]json.RawMessage) error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scheduler: mkdir: %w", err)
	}
	if unknown == nil {
		unknown = st.unknown
	}

	ps := persistedState{
		Version:     stateVersion,
		LastUpdated: now,
		Metrics:     metrics,
		Unknown:     unknown,
	}
	for _, t := range tasks {
		ps.Tasks = append(ps.Tasks, persistedTask{
			AssetId:             t.AssetId,
			Tier:                t.Tier,
			Provider:            t.Provider,
			State:               t.State,
			LastSuccessAt:       t.LastSuccessAt,
			NextFireAt:          t.NextFireAt,
			ConsecutiveFailures: t.ConsecutiveFailures,
			Successes:           t.Successes,
			Failures:            t.Failures,
		})
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".scheduler-state-*.tmp")
	if err != nil {
		return fmt.Errorf("scheduler: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("scheduler: rename temp file: %w", err)
	}
	return nil
}
