// Package metrics exposes Prometheus collectors for stream runners.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Events
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propagator_events_processed_total",
		Help: "The total number of change events handled, by result",
	}, []string{"stream", "result"})

	HandlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propagator_handler_latency_seconds",
		Help:    "The latency of applying one change event",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stream"})

	// Resume positions
	PositionsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propagator_positions_saved_total",
		Help: "The total number of resume positions persisted",
	}, []string{"stream"})

	PositionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propagator_position_errors_total",
		Help: "The total number of resume position load or save errors",
	}, []string{"stream"})

	// Subscriptions
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propagator_reconnects_total",
		Help: "The total number of subscription reconnects, by error class",
	}, []string{"stream", "class"})

	RunnerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "propagator_runner_state",
		Help: "The current runner state (0 starting, 1 attached, 2 running, 3 draining, 4 stopped, 5 failed)",
	}, []string{"stream"})

	Ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "propagator_ready",
		Help: "1 once every stream of the worker is running",
	})
)

func init() {
	prometheus.MustRegister(EventsProcessed)
	prometheus.MustRegister(HandlerLatency)
	prometheus.MustRegister(PositionsSaved)
	prometheus.MustRegister(PositionErrors)
	prometheus.MustRegister(Reconnects)
	prometheus.MustRegister(RunnerState)
	prometheus.MustRegister(Ready)
}
