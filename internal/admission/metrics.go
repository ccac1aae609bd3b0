package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the admission controller.
type Metrics struct {
	inflight  prometheus.Gauge
	admitted  prometheus.Counter
	rejected  *prometheus.CounterVec
	reclaimed prometheus.Counter
}

// NewMetrics registers admission metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "patchd_admission_inflight_slots",
			Help: "Number of currently admitted sessions.",
		}),
		admitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "patchd_admission_admitted_total",
			Help: "Total number of admitted sessions.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patchd_admission_rejected_total",
			Help: "Total number of rejected admission attempts.",
		}, []string{"reason"}),
		reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "patchd_admission_reclaimed_slots_total",
			Help: "Total number of stale slots reclaimed by GC.",
		}),
	}
}
