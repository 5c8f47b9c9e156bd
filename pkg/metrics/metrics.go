// Package metrics exposes the tool's own run statistics over Prometheus: how
// steps resolved, how long they took, and how many iterations each poll loop
// needed. It is a different concern from the update-cloudwatch-alarms step,
// which rewrites the customer's CloudWatch alarms — this package describes
// the converter's own behavior, not the instance being converted.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StepOutcomesTotal counts step handler executions by step name and
	// outcome ("ok", "failed"); gated and recovered steps are not counted.
	StepOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2_spot_converter_step_outcomes_total",
			Help: "Total number of step executions by step name and outcome",
		},
		[]string{"step", "outcome"},
	)

	// StepDuration records wall-clock time spent inside a step handler,
	// including any polling it performs.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ec2_spot_converter_step_duration_seconds",
			Help:    "Step handler duration in seconds by step name",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"step"},
	)

	// PollAttemptsTotal counts every poll-loop iteration, by step name and
	// the predicate's result on that iteration ("pending", "satisfied",
	// "error"), plus one "exhausted" when a loop runs out of attempts.
	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2_spot_converter_poll_attempts_total",
			Help: "Total number of poll loop iterations by step and result",
		},
		[]string{"step", "result"},
	)

	// ConversionsTotal counts finished runs by final status ("completed",
	// "failed").
	ConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2_spot_converter_conversions_total",
			Help: "Total number of conversion runs by final status",
		},
		[]string{"status"},
	)

	// ConversionDuration records total run duration for a single invocation
	// of the conversion engine, from the start of the run to the terminal
	// step; it is observed only for runs that complete.
	ConversionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ec2_spot_converter_conversion_duration_seconds",
			Help:    "Duration of a single invocation of the conversion engine in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600, 7200},
		},
	)

	// DriftWarningsTotal counts non-fatal configuration-drift warnings raised
	// by the Engine, by step name.
	DriftWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2_spot_converter_drift_warnings_total",
			Help: "Total number of configuration drift warnings by step",
		},
		[]string{"step"},
	)

	// RewindsTotal counts operator- and handler-triggered rewinds of
	// ConversionStep, by target step name and trigger ("operator", "handler").
	RewindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2_spot_converter_rewinds_total",
			Help: "Total number of ConversionStep rewinds by target step and trigger",
		},
		[]string{"step", "trigger"},
	)
)

func init() {
	prometheus.MustRegister(StepOutcomesTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(PollAttemptsTotal)
	prometheus.MustRegister(ConversionsTotal)
	prometheus.MustRegister(ConversionDuration)
	prometheus.MustRegister(DriftWarningsTotal)
	prometheus.MustRegister(RewindsTotal)
}

// Handler returns the Prometheus HTTP handler, served on --metrics-addr when set.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
