package posting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records posting outcomes.
type Metrics struct {
	postings *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  prometheus.Counter
}

// NewMetrics registers posting collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posting_documents_total",
			Help: "Posting attempts partitioned by operation, document kind and outcome.",
		}, []string{"operation", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posting_duration_seconds",
			Help:    "Wall time of posting operations including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posting_transient_retries_total",
			Help: "Posting transactions retried after a serialization failure or deadlock.",
		}),
	}
	registerer.MustRegister(m.postings, m.duration, m.retries)
	return m
}

func (m *Metrics) observe(op, kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(op, kind, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
