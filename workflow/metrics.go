package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voucher",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Voucher events handed to Pub/Sub, by result.",
	}, []string{"result"})

	paymentNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voucher",
		Subsystem: "payments",
		Name:      "notifications_total",
		Help:      "Payment notifications by payment status and outcome.",
	}, []string{"status", "outcome"})

	sweeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voucher",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Reservation sweeper ticks by outcome.",
	}, []string{"outcome"})
)
