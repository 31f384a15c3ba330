package checkout

import (
	"errors"

	"lab_key_tracker/db"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labkeys",
			Subsystem: "checkout",
			Name:      "operations_total",
			Help:      "Checkout operations by result.",
		}, []string{"op", "result"})

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "labkeys",
			Subsystem: "checkout",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of a checkout operation including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"})

	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "labkeys",
			Subsystem: "checkout",
			Name:      "retries_total",
			Help:      "Units of work rerun after the store was unavailable.",
		}, []string{"op"})

	publishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "labkeys",
			Subsystem: "checkout",
			Name:      "publish_failures_total",
			Help:      "Events that could not be published after commit.",
		})

	overdueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "labkeys",
			Subsystem: "checkout",
			Name:      "overdue_transactions",
			Help:      "Open transactions past the overdue threshold at the last sweep.",
		})
)

func init() {
	prometheus.MustRegister(operationCounter, operationDuration, retryCounter, publishFailures, overdueGauge)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, db.ErrNotFound):
		return "not_found"
	case errors.Is(err, db.ErrConflict):
		return "conflict"
	case errors.Is(err, db.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
