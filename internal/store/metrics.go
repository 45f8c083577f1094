package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opDuration tracks store operation latency by backend and operation
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eresion_store_operation_duration_seconds",
		Help:    "Store operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"backend", "operation"})

	// opErrors counts failed store operations
	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eresion_store_operation_errors_total",
		Help: "Total failed store operations by backend and operation",
	}, []string{"backend", "operation"})

	// retries counts retried store operations
	retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eresion_store_retries_total",
		Help: "Total store operation retries after transient errors",
	})
)

// observe records one operation. Deferred with a pointer to the named
// error result.
func observe(backend, op string, start time.Time, err *error) {
	opDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		opErrors.WithLabelValues(backend, op).Inc()
	}
}
