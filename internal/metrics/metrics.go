// Package metrics provides Prometheus metrics for the sweeper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-blackswan/sweeper/internal/retention"
)

// Metrics holds all Prometheus metrics for the sweeper.
type Metrics struct {
	SweepsTotal         *prometheus.CounterVec
	PostsDeletedTotal   prometheus.Counter
	DeleteFailuresTotal prometheus.Counter
	SweepDuration       prometheus.Histogram
	FleetRunsTotal      *prometheus.CounterVec
	LastFleetRun        prometheus.Gauge
	AccountsActive      prometheus.Gauge
	DBSize              prometheus.Gauge
	APIRequestsTotal    *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeper_sweeps_total",
				Help: "Total number of account sweeps by stop reason.",
			},
			[]string{"reason"},
		),
		PostsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sweeper_posts_deleted_total",
				Help: "Total number of posts deleted.",
			},
		),
		DeleteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sweeper_delete_failures_total",
				Help: "Total number of failed post deletions.",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sweeper_sweep_duration_seconds",
				Help:    "Duration of single-account sweeps.",
				Buckets: prometheus.DefBuckets,
			},
		),
		FleetRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeper_fleet_runs_total",
				Help: "Total number of fleet sweeps by result.",
			},
			[]string{"result"},
		),
		LastFleetRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sweeper_last_fleet_run_timestamp_seconds",
				Help: "Unix time the last fleet sweep finished.",
			},
		),
		AccountsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sweeper_accounts_active",
				Help: "Number of accounts with retention enabled.",
			},
		),
		DBSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sweeper_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeper_api_requests_total",
				Help: "Management API requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeper_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SweepsTotal)
	reg.MustRegister(m.PostsDeletedTotal)
	reg.MustRegister(m.DeleteFailuresTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.FleetRunsTotal)
	reg.MustRegister(m.LastFleetRun)
	reg.MustRegister(m.AccountsActive)
	reg.MustRegister(m.DBSize)
	reg.MustRegister(m.APIRequestsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSweep records one finished sweep.
func (m *Metrics) RecordSweep(o retention.Outcome) {
	m.SweepsTotal.WithLabelValues(string(o.Reason)).Inc()
	m.PostsDeletedTotal.Add(float64(o.PostsDeleted))
	m.DeleteFailuresTotal.Add(float64(o.DeleteFailures))
	if !o.StartedAt.IsZero() && !o.FinishedAt.IsZero() {
		m.SweepDuration.Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
}

// RecordFleetRun records a finished fleet sweep.
func (m *Metrics) RecordFleetRun(failed bool, finishedAt time.Time) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.FleetRunsTotal.WithLabelValues(result).Inc()
	m.LastFleetRun.Set(float64(finishedAt.Unix()))
}

// SetActiveAccounts sets the active account count.
func (m *Metrics) SetActiveAccounts(count int) {
	m.AccountsActive.Set(float64(count))
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	m.DBSize.Set(float64(bytes))
}

// RecordAPIRequest increments the API request counter.
func (m *Metrics) RecordAPIRequest(method, route string, status int) {
	m.APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// RegisterQueue exports dispatch queue gauges read on every scrape.
func (m *Metrics) RegisterQueue(inFlight, queued func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sweeper_dispatch_in_flight",
			Help: "Accounts with a pending or running sweep.",
		}, func() float64 { return float64(inFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sweeper_dispatch_queue_depth",
			Help: "Sweeps waiting for a worker.",
		}, func() float64 { return float64(queued()) }),
	)
}
