package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko_offers",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko_offers",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions.",
	}, []string{"target", "from", "to"})
)

// RegisterMetrics exposes the breaker collectors on reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{stateGauge, transitionsTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func observeState(target string, s State) {
	stateGauge.WithLabelValues(target).Set(float64(s))
}

func observeTransition(target string, from, to State) {
	observeState(target, to)
	transitionsTotal.WithLabelValues(target, from.String(), to.String()).Inc()
}

// TransitionsCounter returns the transition counter for the given labels.
func TransitionsCounter(target, from, to string) prometheus.Counter {
	return transitionsTotal.WithLabelValues(target, from, to)
}
