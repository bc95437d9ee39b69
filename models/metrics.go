package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	voucherAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voucher",
		Name:      "allocations_total",
		Help:      "Voucher allocation attempts by operation and outcome.",
	}, []string{"operation", "outcome"})

	voucherAllocationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voucher",
		Name:      "allocation_duration_seconds",
		Help:      "Latency of voucher allocation transactions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	voucherExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voucher",
		Name:      "reservations_expired_total",
		Help:      "Reservations returned to the pool after the TTL elapsed.",
	})
)

func allocationOutcome(v *Voucher, err error) string {
	switch {
	case err != nil:
		return "error"
	case v == nil:
		return "out_of_stock"
	default:
		return "ok"
	}
}
