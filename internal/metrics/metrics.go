package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	registry prometheus.Gatherer

	sweepDuration     prometheus.Histogram
	sweepsTotal       *prometheus.CounterVec
	projectsEvaluated prometheus.Counter
	projectFailures   prometheus.Counter
	risksOpened       *prometheus.CounterVec
	risksResolved     *prometheus.CounterVec
	activeRisks       *prometheus.GaugeVec

	syncDispatched *prometheus.CounterVec
	syncRetried    *prometheus.CounterVec
	syncFailed     *prometheus.CounterVec
	syncQueueDepth prometheus.Gauge

	edgesRejected *prometheus.CounterVec

	httpRequests *prometheus.HistogramVec
}

// NewCollector creates and registers all metrics on reg. A nil reg uses a private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ots_risk_sweep_duration_seconds",
			Help:    "Duration of a full risk sweep in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_risk_sweeps_total",
			Help: "Risk sweeps by trigger",
		}, []string{"trigger"}),
		projectsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ots_risk_projects_evaluated_total",
			Help: "Projects evaluated by the risk engine",
		}),
		projectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ots_risk_project_failures_total",
			Help: "Project evaluations that failed",
		}),
		risksOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_risk_events_opened_total",
			Help: "Risk events opened by type",
		}, []string{"type"}),
		risksResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_risk_events_resolved_total",
			Help: "Risk events resolved by type",
		}, []string{"type"}),
		activeRisks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ots_risk_events_active",
			Help: "Active risk events by severity",
		}, []string{"severity"}),
		syncDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_sync_events_total",
			Help: "Sync events applied by module and outcome",
		}, []string{"module", "outcome"}),
		syncRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_sync_retries_total",
			Help: "Sync event retries by module",
		}, []string{"module"}),
		syncFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_sync_dead_letters_total",
			Help: "Sync events dead-lettered by module",
		}, []string{"module"}),
		syncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ots_sync_queue_depth",
			Help: "Sync events waiting in the dispatcher queue",
		}),
		edgesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ots_dependency_rejections_total",
			Help: "Dependency insertions rejected by reason",
		}, []string{"reason"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ots_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.sweepDuration,
		c.sweepsTotal,
		c.projectsEvaluated,
		c.projectFailures,
		c.risksOpened,
		c.risksResolved,
		c.activeRisks,
		c.syncDispatched,
		c.syncRetried,
		c.syncFailed,
		c.syncQueueDepth,
		c.edgesRejected,
		c.httpRequests,
	)
	return c
}

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSweep records a finished sweep.
func (c *Collector) RecordSweep(trigger string, d time.Duration) {
	if c == nil {
		return
	}
	c.sweepsTotal.WithLabelValues(trigger).Inc()
	c.sweepDuration.Observe(d.Seconds())
}

// RecordProject records one project evaluation.
func (c *Collector) RecordProject(failed bool) {
	if c == nil {
		return
	}
	c.projectsEvaluated.Inc()
	if failed {
		c.projectFailures.Inc()
	}
}

// RecordRiskOpened counts a newly opened risk event.
func (c *Collector) RecordRiskOpened(riskType string) {
	if c == nil {
		return
	}
	c.risksOpened.WithLabelValues(riskType).Inc()
}

// RecordRiskResolved counts resolved risk events.
func (c *Collector) RecordRiskResolved(riskType string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.risksResolved.WithLabelValues(riskType).Add(float64(n))
}

// SetActiveRisks replaces the active-by-severity gauge values.
func (c *Collector) SetActiveRisks(bySeverity map[string]int64) {
	if c == nil {
		return
	}
	c.activeRisks.Reset()
	for sev, n := range bySeverity {
		c.activeRisks.WithLabelValues(sev).Set(float64(n))
	}
}

// RecordSync records the outcome of one applied sync event.
func (c *Collector) RecordSync(module, outcome string) {
	if c == nil {
		return
	}
	c.syncDispatched.WithLabelValues(module, outcome).Inc()
}

// RecordSyncRetry counts a retry.
func (c *Collector) RecordSyncRetry(module string) {
	if c == nil {
		return
	}
	c.syncRetried.WithLabelValues(module).Inc()
}

// RecordSyncDeadLetter counts a dead-lettered event.
func (c *Collector) RecordSyncDeadLetter(module string) {
	if c == nil {
		return
	}
	c.syncFailed.WithLabelValues(module).Inc()
}

// SetSyncQueueDepth sets the current queue depth.
func (c *Collector) SetSyncQueueDepth(n int) {
	if c == nil {
		return
	}
	c.syncQueueDepth.Set(float64(n))
}

// RecordEdgeRejected counts a rejected dependency insertion.
func (c *Collector) RecordEdgeRejected(reason string) {
	if c == nil {
		return
	}
	c.edgesRejected.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
