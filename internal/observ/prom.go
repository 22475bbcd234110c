package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRegistry exposes the pipeline's headline counters to an external
// Prometheus scraper, alongside (not instead of) the lightweight in-process
// registry above, which stays cheap enough to read synchronously from the
// supervisor's own health checks.
type PromRegistry struct {
	reg                *prometheus.Registry
	CollectionAttempts *prometheus.CounterVec
	CollectionLatency  *prometheus.HistogramVec
	SchedulerQueue     prometheus.Gauge
	RiskAssessments    *prometheus.CounterVec
	AlertsEmitted      *prometheus.CounterVec
}

// NewPromRegistry builds and registers the fixed set of metrics the pipeline
// exports.
func NewPromRegistry() *PromRegistry {
	r := prometheus.NewRegistry()
	p := &PromRegistry{
		reg: r,
		CollectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsignal_collection_attempts_total",
			Help: "Collection task attempts by asset and outcome.",
		}, []string{"asset_id", "outcome"}),
		CollectionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsignal_collection_latency_seconds",
			Help:    "End-to-end collection task latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"asset_id"}),
		SchedulerQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketsignal_scheduler_queue_depth",
			Help: "Number of due collection tasks waiting in the scheduler.",
		}),
		RiskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsignal_risk_assessments_total",
			Help: "Risk assessments by decision (approved/rejected).",
		}, []string{"decision"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsignal_alerts_emitted_total",
			Help: "Alerts emitted by kind.",
		}, []string{"kind"}),
	}
	r.MustRegister(p.CollectionAttempts, p.CollectionLatency, p.SchedulerQueue, p.RiskAssessments, p.AlertsEmitted)
	return p
}

// Handler returns the standard Prometheus text-exposition HTTP handler.
func (p *PromRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
