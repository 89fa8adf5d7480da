package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PurchaseInfoTotal counts strategy lookups by availability code.
	PurchaseInfoTotal *prometheus.CounterVec
	// OffersAppliedTotal counts successful offer applications by offer type.
	OffersAppliedTotal *prometheus.CounterVec
	// OfferDiscountTotal accumulates basket discount value by currency.
	OfferDiscountTotal *prometheus.CounterVec
	// BasketLinesTotal counts basket line additions by outcome.
	BasketLinesTotal *prometheus.CounterVec
	// StockAllocationsTotal counts stock ledger writes by operation and result.
	StockAllocationsTotal *prometheus.CounterVec
	// StockAlertsTotal counts low stock alert transitions.
	StockAlertsTotal *prometheus.CounterVec
	// LedgerLockWait records time spent waiting for stock record locks in milliseconds.
	LedgerLockWait prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PurchaseInfoTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_info_total",
			Help:      "Count of purchase info lookups by strategy and availability code.",
		}, []string{"strategy", "availability"}))
		OffersAppliedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_applied_total",
			Help:      "Count of successful offer applications.",
		}, []string{"offer_type", "benefit_type"}))
		OfferDiscountTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_discount_total",
			Help:      "Accumulated discount value granted by offers.",
		}, []string{"currency"}))
		BasketLinesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "basket_lines_total",
			Help:      "Count of basket line additions by result.",
		}, []string{"result"}))
		StockAllocationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_ledger_writes_total",
			Help:      "Count of stock ledger writes by operation and result.",
		}, []string{"operation", "result"}))
		StockAlertsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_alerts_total",
			Help:      "Count of low stock alert transitions.",
		}, []string{"transition"}))
		LedgerLockWait = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stock_ledger_lock_wait_ms",
			Help:      "Time spent acquiring stock record locks in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}))
	})
}
