package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the stock
// snapshot lifecycle.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	regenBatches *prometheus.CounterVec
	ingestRows   *prometheus.CounterVec
	snapshotRows prometheus.Gauge
	lastRefresh  prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveRegenBatch counts a regen batch lookup, split by whether it had to be created.
func (m *Metrics) ObserveRegenBatch(created bool) {
	if m == nil {
		return
	}
	outcome := "reused"
	if created {
		outcome = "created"
	}
	m.regenBatches.WithLabelValues(outcome).Inc()
}

// AddIngestRows counts ingested ledger rows. kind is "movement" or "line";
// status is "written", "repaired" or "failed".
func (m *Metrics) AddIngestRows(kind, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ingestRows.WithLabelValues(kind, status).Add(float64(count))
}

// ObserveRefresh records the outcome of a completed snapshot refresh.
func (m *Metrics) ObserveRefresh(rows int64, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.snapshotRows.Set(float64(rows))
	m.lastRefresh.Set(float64(finishedAt.Unix()))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	regen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_regen_batches_total",
		Help: "Regen batch resolutions during line ingestion grouped by outcome.",
	}, []string{"outcome"})
	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_ingest_rows_total",
		Help: "Ledger rows processed by ingestion grouped by kind and status.",
	}, []string{"kind", "status"})
	snapshotRows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_stock_snapshot_rows",
		Help: "Row count of the stock snapshot after the last refresh.",
	})
	lastRefresh := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_stock_snapshot_last_refresh_timestamp_seconds",
		Help: "Unix time the stock snapshot was last refreshed.",
	})
	registerer.MustRegister(runs, failures, duration, regen, ingest, snapshotRows, lastRefresh)
	return &Metrics{
		runs:         runs,
		failures:     failures,
		duration:     duration,
		regenBatches: regen,
		ingestRows:   ingest,
		snapshotRows: snapshotRows,
		lastRefresh:  lastRefresh,
	}
}
