package executor

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible counters and histograms for
// TaskExecutor runs, namespaced "checkpointed_".
type Metrics struct {
	activeSteps  *prometheus.GaugeVec
	stepLatency  *prometheus.HistogramVec
	stepsRun     *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	stepFailures *prometheus.CounterVec

	start map[string]time.Time
}

// NewMetrics registers the executor's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSteps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkpointed_active_steps",
			Help: "Number of steps currently executing.",
		}, []string{"pipeline"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpointed_step_latency_seconds",
			Help:    "Step execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline", "step"}),
		stepsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpointed_steps_total",
			Help: "Total steps dispatched, by cache outcome.",
		}, []string{"pipeline", "outcome"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpointed_checkpoint_hits_total",
			Help: "Total checkpoint cache hits.",
		}, []string{"pipeline"}),
		stepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpointed_step_failures_total",
			Help: "Total step execution failures.",
		}, []string{"pipeline"}),
		start: make(map[string]time.Time),
	}
}

func (m *Metrics) key(pipelineName string, step fmt.Stringer) string {
	return pipelineName + "/" + step.String()
}

// TaskStarted records the start of a task dispatch.
func (m *Metrics) TaskStarted(pipelineName string, step fmt.Stringer) {
	m.activeSteps.WithLabelValues(pipelineName).Inc()
	m.start[m.key(pipelineName, step)] = time.Now()
}

// TaskFinished records a task's completion and observed latency.
func (m *Metrics) TaskFinished(pipelineName string, step fmt.Stringer) {
	m.activeSteps.WithLabelValues(pipelineName).Dec()
	key := m.key(pipelineName, step)
	if started, ok := m.start[key]; ok {
		m.stepLatency.WithLabelValues(pipelineName, step.String()).Observe(time.Since(started).Seconds())
		delete(m.start, key)
	}
}

// TaskCacheHit records a checkpoint reuse instead of a step execution.
func (m *Metrics) TaskCacheHit(pipelineName string) {
	m.cacheHits.WithLabelValues(pipelineName).Inc()
	m.stepsRun.WithLabelValues(pipelineName, "cache_hit").Inc()
}

// TaskExecuted records a step whose body actually ran.
func (m *Metrics) TaskExecuted(pipelineName string) {
	m.stepsRun.WithLabelValues(pipelineName, "executed").Inc()
}

// TaskFailed records a step execution failure.
func (m *Metrics) TaskFailed(pipelineName string) {
	m.stepFailures.WithLabelValues(pipelineName).Inc()
}
