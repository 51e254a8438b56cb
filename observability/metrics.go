package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/loan-engine/lending"
)

// EngineMetrics implements lending.Recorder on Prometheus collectors.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	replays    prometheus.Counter
	batches    *prometheus.CounterVec
	latency    prometheus.Histogram
	transfers  *prometheus.CounterVec
	volume     *prometheus.CounterVec
	events     *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "operations_applied_total",
				Help:      "Operations applied by the processor segmented by kind.",
			}, []string{"kind"}),
			replays: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "replays_total",
				Help:      "Full sub-loan replays triggered by backdated or voided operations.",
			}),
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "batches_total",
				Help:      "Batches executed segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "batch_duration_seconds",
				Help:      "Latency distribution of engine batches.",
				Buckets:   prometheus.DefBuckets,
			}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "transfers_total",
				Help:      "Token transfers settled segmented by direction relative to the pool.",
			}, []string{"direction"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "engine",
				Name:      "transfer_volume_total",
				Help:      "Token units moved segmented by direction relative to the pool.",
			}, []string{"direction"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loan",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Engine events published segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.replays,
			engineRegistry.batches,
			engineRegistry.latency,
			engineRegistry.transfers,
			engineRegistry.volume,
			engineRegistry.events,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) OperationApplied(kind lending.OperationKind) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind.String()).Inc()
}

func (m *EngineMetrics) Replayed(lending.SubLoanID) {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *EngineMetrics) BatchFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.latency.Observe(seconds)
}

func (m *EngineMetrics) Transferred(direction string, amount uint64) {
	if m == nil {
		return
	}
	direction = strings.ToLower(strings.TrimSpace(direction))
	if direction == "" {
		direction = "unknown"
	}
	m.transfers.WithLabelValues(direction).Inc()
	m.volume.WithLabelValues(direction).Add(float64(amount))
}

// RecordEvent counts one published event.
func (m *EngineMetrics) RecordEvent(kind lending.EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

var _ lending.Recorder = (*EngineMetrics)(nil)
