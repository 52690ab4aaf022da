package analysis

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks for instrumenting runs. Nil fields are
// skipped; the zero value disables instrumentation entirely.
type Hooks struct {
	OnLLMCall     func(duration float64, isError bool)
	OnLLMRetry    func()
	OnStage       func(stage Stage, duration float64)
	OnSourceFetch func(source, status string)
	OnEvent       func(event string)
	OnComplete    func(status Status, duration float64)
}

// Metrics holds Prometheus metrics for the analysis subsystem.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	StageDuration      *prometheus.HistogramVec
	LLMCallsTotal      *prometheus.CounterVec
	LLMRetriesTotal    prometheus.Counter
	LLMDuration        prometheus.Histogram
	SourceFetchesTotal *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
}

// NewMetrics registers and returns analysis metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_analysis_runs_total",
			Help: "Total analysis runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oncall_analysis_run_duration_seconds",
			Help:    "Duration of analysis runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oncall_analysis_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"stage"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_llm_calls_total",
			Help: "Total LLM provider calls by result.",
		}, []string{"result"}),
		LLMRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oncall_llm_retries_total",
			Help: "Total corrective retries after invalid LLM output.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oncall_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		SourceFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_source_fetches_total",
			Help: "Telemetry source fetches by source and outcome.",
		}, []string{"source", "status"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_stream_events_total",
			Help: "Events emitted on analysis streams by type.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.LLMCallsTotal,
		m.LLMRetriesTotal,
		m.LLMDuration,
		m.SourceFetchesTotal,
		m.EventsTotal,
	)

	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLLMCall: func(duration float64, isError bool) {
			result := "success"
			if isError {
				result = "error"
			}
			m.LLMCallsTotal.WithLabelValues(result).Inc()
			m.LLMDuration.Observe(duration)
		},
		OnLLMRetry: func() {
			m.LLMRetriesTotal.Inc()
		},
		OnStage: func(stage Stage, duration float64) {
			m.StageDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnSourceFetch: func(source, status string) {
			m.SourceFetchesTotal.WithLabelValues(source, status).Inc()
		},
		OnEvent: func(event string) {
			m.EventsTotal.WithLabelValues(event).Inc()
		},
		OnComplete: func(status Status, duration float64) {
			m.RunsTotal.WithLabelValues(string(status)).Inc()
			m.RunDuration.WithLabelValues(string(status)).Observe(duration)
		},
	}
}
