package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSettlementCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSettlementMetrics(registry, Config{ServiceName: "paywatch", Environment: "test"})

	m.IncTick(TickOutcomeBelowThreshold)
	m.IncTick(TickOutcomeBelowThreshold)
	m.IncSweep(SweepResultCommitted)
	m.AddSweptLamports(999_995_000)
	m.AddSweptLamports(-1)
	m.SetActiveJobs(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ticks.WithLabelValues(TickOutcomeBelowThreshold)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sweeps.WithLabelValues(SweepResultCommitted)))
	assert.Equal(t, float64(999_995_000), testutil.ToFloat64(m.sweptLamports))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.activeJobs))
}

func TestSettlementSingletonReset(t *testing.T) {
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = prev
		ResetSettlementMetricsForTest()
	})
	ResetSettlementMetricsForTest()

	first := Settlement()
	assert.Same(t, first, Settlement())

	ResetSettlementMetricsForTest()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	assert.NotSame(t, first, Settlement())
}

func TestNilSettlementMetricsIsSafe(t *testing.T) {
	var m *SettlementMetrics
	assert.NotPanics(t, func() {
		m.IncTick(TickOutcomeError)
		m.IncNotification(NotifyResultFailed)
		m.SetActiveJobs(1)
	})
}

func TestFilterAttributes(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "transfer"),
		attribute.String("wallet_address", "abc"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("operation"), attrs[0].Key)
}
