package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	records     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewPrometheusRecorder registers the publisher metrics on a new registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crimsonpen",
			Name:      "generation_attempts_total",
			Help:      "Generation service attempts by purpose, model and outcome.",
		}, []string{"purpose", "model", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crimsonpen",
			Name:      "generation_latency_seconds",
			Help:      "Latency of successful generation calls.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"model"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crimsonpen",
			Name:      "runs_total",
			Help:      "Publishing runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crimsonpen",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a publishing run.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crimsonpen",
			Name:      "history_records",
			Help:      "Records in the persisted history after the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crimsonpen",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
	reg.MustRegister(r.attempts, r.latency, r.runs, r.runDuration, r.records, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry (for promhttp or tests).
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

func (r *PrometheusRecorder) IncGenerationAttempt(purpose, model, outcome string) {
	r.attempts.WithLabelValues(purpose, model, outcome).Inc()
}

func (r *PrometheusRecorder) ObserveGenerationLatency(model string, d time.Duration) {
	r.latency.WithLabelValues(model).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncRunOutcome(outcome string) {
	r.runs.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	r.runDuration.Observe(d.Seconds())
}

func (r *PrometheusRecorder) SetHistoryRecords(n int) {
	r.records.Set(float64(n))
}

func (r *PrometheusRecorder) SetLastSuccess(t time.Time) {
	r.lastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format, atomically.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
