package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for pipeline runs. A nil
// receiver is a no-op so wiring stays optional.
type PipelineMetrics struct {
	runsTotal      *prometheus.CounterVec
	conflictsTotal prometheus.Counter
	escalations    *prometheus.CounterVec
	degradedStages *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	commitAttempts prometheus.Histogram
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by outcome",
		}, []string{"outcome"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "version_conflicts_total",
			Help:      "Total optimistic-concurrency conflicts during commit",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "escalations_total",
			Help:      "Total escalations by reason",
		}, []string{"reason"}),
		degradedStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "degraded_stage_results_total",
			Help:      "Stage results served by a fallback path",
		}, []string{"stage"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		commitAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "support",
			Subsystem: "pipeline",
			Name:      "commit_attempts",
			Help:      "Commit attempts needed per successful run",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.conflictsTotal, m.escalations, m.degradedStages, m.runDuration, m.commitAttempts)
	return m
}

func (m *PipelineMetrics) ObserveRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *PipelineMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *PipelineMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}

func (m *PipelineMetrics) ObserveDegradedStage(stage string) {
	if m == nil {
		return
	}
	m.degradedStages.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveCommitAttempts(attempts int) {
	if m == nil {
		return
	}
	m.commitAttempts.Observe(float64(attempts))
}

// BreakerMetrics tracks circuit-breaker activity per named breaker.
type BreakerMetrics struct {
	stateChanges *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
}

func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "breaker",
			Name:      "state_changes_total",
			Help:      "Breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "breaker",
			Name:      "rejections_total",
			Help:      "Calls rejected without reaching the dependency",
		}, []string{"breaker"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "breaker",
			Name:      "fallbacks_total",
			Help:      "Degraded results served by a fallback",
		}, []string{"breaker"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stateChanges, m.rejections, m.fallbacks)
	return m
}

func (m *BreakerMetrics) ObserveStateChange(name, from, to string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(name, from, to).Inc()
}

func (m *BreakerMetrics) ObserveRejection(name string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(name).Inc()
}

func (m *BreakerMetrics) ObserveFallback(name string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(name).Inc()
}
