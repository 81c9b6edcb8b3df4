package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TickOutcomeBelowThreshold = "below_threshold"
	TickOutcomeSettled        = "settled"
	TickOutcomeInactive       = "inactive"
	TickOutcomeError          = "error"
	TickOutcomeSkipped        = "skipped"
)

const (
	SweepResultCommitted           = "committed"
	SweepResultInsufficientReserve = "insufficient_reserve"
	SweepResultSubmissionFailed    = "submission_failed"
	SweepResultLedgerUnavailable   = "ledger_unavailable"
	SweepResultUnconfirmed         = "unconfirmed"
	SweepResultStoreError          = "store_error"
	SweepResultUnknown             = "unknown"
)

const (
	NotifyResultDelivered = "delivered"
	NotifyResultFailed    = "failed"
)

// SettlementMetrics captures settlement loop health signals.
type SettlementMetrics struct {
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	sweeps        *prometheus.CounterVec
	sweptLamports prometheus.Counter
	activeJobs    prometheus.Gauge
	failedJobs    prometheus.Counter
	notifications *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

// SettlementWithConfig returns the singleton settlement metrics registry using config labels.
func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// ResetSettlementMetricsForTest resets the settlement metrics singleton for tests.
func ResetSettlementMetricsForTest() {
	settlementMetricsOnce = sync.Once{}
	settlementMetrics = nil
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paywatch"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SettlementMetrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paywatch_settlement_ticks_total",
			Help:        "Monitoring ticks by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "paywatch_settlement_tick_duration_seconds",
			Help:        "Latency of a single monitoring tick including any sweep.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paywatch_settlement_sweeps_total",
			Help:        "Sweep attempts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		sweptLamports: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paywatch_settlement_swept_lamports_total",
			Help:        "Lamports moved to the settlement wallet.",
			ConstLabels: constLabels,
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "paywatch_settlement_active_jobs",
			Help:        "Monitoring jobs currently registered with the scheduler.",
			ConstLabels: constLabels,
		}),
		failedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paywatch_settlement_failed_jobs_total",
			Help:        "Monitoring jobs that exhausted their sweep attempts.",
			ConstLabels: constLabels,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paywatch_settlement_notifications_total",
			Help:        "Payment notifications by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.ticks,
		m.tickDuration,
		m.sweeps,
		m.sweptLamports,
		m.activeJobs,
		m.failedJobs,
		m.notifications,
	)
	return m
}

func (m *SettlementMetrics) IncTick(outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) ObserveTickDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *SettlementMetrics) IncSweep(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}

func (m *SettlementMetrics) AddSweptLamports(lamports int64) {
	if m == nil || lamports <= 0 {
		return
	}
	m.sweptLamports.Add(float64(lamports))
}

func (m *SettlementMetrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

func (m *SettlementMetrics) IncFailedJob() {
	if m == nil {
		return
	}
	m.failedJobs.Inc()
}

func (m *SettlementMetrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
