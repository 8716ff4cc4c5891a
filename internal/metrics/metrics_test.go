package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	EventsProcessed.WithLabelValues("metrics_test", ResultOK).Inc()
	HandlerLatency.WithLabelValues("metrics_test").Observe(0.01)
	PositionsSaved.WithLabelValues("metrics_test").Inc()
	PositionErrors.WithLabelValues("metrics_test").Inc()
	Reconnects.WithLabelValues("metrics_test", "transient").Inc()
	RunnerState.WithLabelValues("metrics_test").Set(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"propagator_events_processed_total",
		"propagator_handler_latency_seconds",
		"propagator_positions_saved_total",
		"propagator_position_errors_total",
		"propagator_reconnects_total",
		"propagator_runner_state",
		"propagator_ready",
	} {
		assert.True(t, names[want], want)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(RunnerState.WithLabelValues("metrics_test")))
}
