package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64     // name -> labelsKey -> count
	gauges   map[string]map[string]float64   // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	k := canonLabels(labels)
	m[k] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	k := canonLabels(labels)
	m[k] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration metric in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Handler serves a JSON dump of the in-process registry for quick checks
// (not Prometheus exposition format — see PromRegistry for that).
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the supervisor's process-wide health report (spec.md §4.9).
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Metrics   HealthMetrics          `json:"metrics"`
	Details   map[string]interface{} `json:"details"`
}

// HealthMetrics surfaces the pipeline's key operational numbers: collection
// success, scheduler backlog, risk rejections, alert throughput.
type HealthMetrics struct {
	CollectionSuccessRate float64 `json:"collection_success_rate"`
	CollectionLatencyP95Ms int64  `json:"collection_latency_p95_ms"`
	SchedulerQueueDepth   int64   `json:"scheduler_queue_depth"`
	DisabledTaskCount     int64   `json:"disabled_task_count"`
	RiskApprovalRate      float64 `json:"risk_approval_rate"`
	AlertsEmittedTotal    int64   `json:"alerts_emitted_total"`
}

var version = "dev"

// SetVersion sets the version string for health reports.
func SetVersion(v string) { version = v }

// HealthHandler returns an HTTP health endpoint for the supervisor's
// component health checks and operator polling.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		health := HealthStatus{
			Status:    calculateOverallHealthStatus(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    Uptime().String(),
			Version:   version,
			Metrics:   calculateHealthMetrics(),
			Details:   gatherHealthDetails(),
		}

		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func calculateOverallHealthStatus() string {
	if hasFailedComponents() {
		return "failed"
	}
	if hasDegradedComponents() {
		return "degraded"
	}
	return "healthy"
}

func sumCounter(name string) int64 {
	var total int64
	for _, c := range reg.counters[name] {
		total += c
	}
	return total
}

func p95(name string) int64 {
	for _, samples := range reg.hist[name] {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return int64(sorted[idx])
	}
	return 0
}

func calculateHealthMetrics() HealthMetrics {
	m := HealthMetrics{}

	attempts := sumCounter("collection_attempts_total")
	successes := sumCounter("collection_successes_total")
	if attempts > 0 {
		m.CollectionSuccessRate = float64(successes) / float64(attempts)
	}
	m.CollectionLatencyP95Ms = p95("collection_latency_ms")

	for _, v := range reg.gauges["scheduler_queue_depth"] {
		m.SchedulerQueueDepth = int64(v)
		break
	}
	for _, v := range reg.gauges["scheduler_disabled_tasks"] {
		m.DisabledTaskCount = int64(v)
		break
	}

	assessed := sumCounter("risk_assessments_total")
	approved := sumCounter("risk_approvals_total")
	if assessed > 0 {
		m.RiskApprovalRate = float64(approved) / float64(assessed)
	}
	m.AlertsEmittedTotal = sumCounter("alerts_emitted_total")

	return m
}

func hasFailedComponents() bool {
	if status, exists := reg.gauges["component_health_status"]; exists {
		for _, v := range status {
			if v == 0 {
				return true
			}
		}
	}
	attempts := sumCounter("collection_attempts_total")
	successes := sumCounter("collection_successes_total")
	if attempts > 20 && float64(successes)/float64(attempts) < 0.5 {
		return true
	}
	return false
}

func hasDegradedComponents() bool {
	if status, exists := reg.gauges["component_health_status"]; exists {
		for _, v := range status {
			if v == 1 {
				return true
			}
		}
	}
	if p95("collection_latency_ms") > 5000 {
		return true
	}
	return false
}

func gatherHealthDetails() map[string]interface{} {
	details := make(map[string]interface{})

	disabledAssets := []string{}
	for labelKey, v := range reg.gauges["task_state_disabled"] {
		if v == 1 {
			disabledAssets = append(disabledAssets, labelKey)
		}
	}
	sort.Strings(disabledAssets)
	details["disabled_tasks"] = disabledAssets

	if errorTypes, exists := reg.counters["collection_errors_by_kind"]; exists {
		type errCount struct {
			Kind  string
			Count int64
		}
		var errs []errCount
		for kind, count := range errorTypes {
			errs = append(errs, errCount{Kind: kind, Count: count})
		}
		sort.Slice(errs, func(i, j int) bool { return errs[i].Count > errs[j].Count })
		if len(errs) > 5 {
			errs = errs[:5]
		}
		details["top_errors"] = errs
	}

	return details
}

// Health is a liveness-only handler, distinct from HealthHandler's richer
// readiness report.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
