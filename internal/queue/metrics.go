package queue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exist from package init so the worker loop can update them
// unconditionally; they only become visible once RegisterMetrics runs.
var (
	depthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko_offers",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Approximate number of ready tasks per kind.",
	}, []string{"kind"})
	processedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko_offers",
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Tasks processed grouped by outcome (ok, retry, dead).",
	}, []string{"kind", "status"})
	deadLetterGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko_offers",
		Subsystem: "queue",
		Name:      "dead_letters",
		Help:      "Tasks parked in the dead letter list.",
	}, []string{"kind"})
)

// RegisterMetrics exposes the queue collectors on reg. Registering twice is
// harmless.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{depthGauge, processedTotal, deadLetterGauge} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
