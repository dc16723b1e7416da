package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by every background job.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	drift       *prometheus.CounterVec
}

var (
	globalOnce sync.Once
	global     *Metrics
)

// NewMetrics registers job collectors with registerer. A nil registerer
// shares one set registered on the Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(promauto.With(registerer))
	}
	globalOnce.Do(func() {
		global = register(promauto.With(prometheus.DefaultRegisterer))
	})
	return global
}

func register(f promauto.Factory) *Metrics {
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardware",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Finished job runs by job and status.",
		}, []string{"job", "status"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardware",
			Subsystem: "jobs",
			Name:      "failures_total",
			Help:      "Job runs that returned an error.",
		}, []string{"job"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardware",
			Subsystem: "jobs",
			Name:      "skipped_total",
			Help:      "Job runs dropped because another worker held the lock.",
		}, []string{"job"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hardware",
			Name:      "job_duration_seconds",
			Help:      "Wall time of job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hardware",
			Subsystem: "jobs",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent successful run.",
		}, []string{"job"}),
		drift: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hardware",
			Subsystem: "ledger",
			Name:      "drift_detected_total",
			Help:      "Entities found out of sync by reconciliation runs, by entity type.",
		}, []string{"entity_type"}),
	}
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job. It is safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged so callers can
// write `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	now := time.Now()
	t.m.duration.WithLabelValues(t.job).Observe(now.Sub(t.start).Seconds())
	if err != nil {
		t.m.failures.WithLabelValues(t.job).Inc()
		t.m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.job, "success").Inc()
	t.m.lastSuccess.WithLabelValues(t.job).Set(float64(now.Unix()))
	return nil
}

// AddDrift adds count out-of-sync entities of entityType.
func (m *Metrics) AddDrift(entityType string, count int) {
	if m != nil && count > 0 {
		m.drift.WithLabelValues(entityType).Add(float64(count))
	}
}

// Skipped counts a run that found the job lock taken.
func (m *Metrics) Skipped(job string) {
	if m != nil {
		m.skipped.WithLabelValues(job).Inc()
	}
}
