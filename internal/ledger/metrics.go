package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes reconciliation gauges.
type Metrics struct {
	drifted prometheus.Gauge
	checked prometheus.Gauge
	lastRun prometheus.Gauge
}

// NewMetrics registers the ledger collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		drifted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_drift_entities",
			Help: "Entities whose projection disagreed with their movement sum in the last reconciliation.",
		}),
		checked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_reconciled_entities",
			Help: "Entities checked by the last reconciliation.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_reconcile_last_run_timestamp_seconds",
			Help: "Unix time the last full reconciliation finished.",
		}),
	}
	registerer.MustRegister(m.drifted, m.checked, m.lastRun)
	return m
}

func (m *Metrics) observe(r Report) {
	if m == nil {
		return
	}
	m.drifted.Set(float64(len(r.Drifted)))
	m.checked.Set(float64(r.Checked))
	m.lastRun.Set(float64(r.FinishedAt.Unix()))
}
