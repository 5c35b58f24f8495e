package fusion

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the fusion subsystem.
type Metrics struct {
	AlertsTotal          *prometheus.CounterVec
	SuppressedTotal      *prometheus.CounterVec
	SafetyOverridesTotal *prometheus.CounterVec
	FailuresTotal        *prometheus.CounterVec
	ClassifierCallsTotal *prometheus.CounterVec
	ClassifierDuration   prometheus.Histogram
	RuleScore            prometheus.Histogram
	SubmitsTotal         *prometheus.CounterVec
}

// NewMetrics registers and returns fusion metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_alerts_total",
			Help: "Total alerts emitted by level and source.",
		}, []string{"level", "source"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_alerts_suppressed_total",
			Help: "Total alert emissions suppressed by the cooldown window.",
		}, []string{"level"}),
		SafetyOverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_safety_overrides_total",
			Help: "Total immediate safety overrides by triggering condition.",
		}, []string{"condition"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_fusion_failures_total",
			Help: "Total internal fusion failures by stage.",
		}, []string{"stage"}),
		ClassifierCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_classifier_calls_total",
			Help: "Total classifier invocations by outcome.",
		}, []string{"outcome"}),
		ClassifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wardwatch_classifier_call_duration_seconds",
			Help:    "Duration of classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		RuleScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wardwatch_rule_score",
			Help:    "Distribution of computed rule scores.",
			Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 .. 20
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_submits_total",
			Help: "Total clinical data submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.AlertsTotal,
		m.SuppressedTotal,
		m.SafetyOverridesTotal,
		m.FailuresTotal,
		m.ClassifierCallsTotal,
		m.ClassifierDuration,
		m.RuleScore,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding
// metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnAlert: func(level, source string, score int) {
			m.AlertsTotal.WithLabelValues(level, source).Inc()
			m.RuleScore.Observe(float64(score))
		},
		OnSuppressed: func(level string) {
			m.SuppressedTotal.WithLabelValues(level).Inc()
		},
		OnSafetyOverride: func(condition string) {
			m.SafetyOverridesTotal.WithLabelValues(condition).Inc()
		},
		OnClassify: func(enriched bool, seconds float64) {
			outcome := "enriched"
			if !enriched {
				outcome = "empty"
			}
			m.ClassifierCallsTotal.WithLabelValues(outcome).Inc()
			m.ClassifierDuration.Observe(seconds)
		},
		OnFailure: func(stage string) {
			m.FailuresTotal.WithLabelValues(stage).Inc()
		},
	}
}
