package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutPhases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts entering each phase.",
	}, []string{"phase"})

	checkoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "End-to-end checkout latency including lock waits.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"result"})

	eventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Subsystem: "checkout",
		Name:      "event_publish_failures_total",
		Help:      "OrderCompleted events that could not be published after commit.",
	})
)
