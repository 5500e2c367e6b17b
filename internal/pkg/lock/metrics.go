package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Subsystem: "lock",
		Name:      "acquire_seconds",
		Help:      "Time spent waiting for a distributed lock.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"mode", "result"})

	acquireFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Subsystem: "lock",
		Name:      "acquire_failures_total",
		Help:      "Lock acquisitions that timed out or failed.",
	}, []string{"mode"})

	heldDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Subsystem: "lock",
		Name:      "held_seconds",
		Help:      "Time a distributed lock was held before release.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})
)
