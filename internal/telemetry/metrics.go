package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricType is one of the four kinds of metric record the Monitoring
// component accepts.
type MetricType string

const (
	MetricPerformance MetricType = "performance"
	MetricError       MetricType = "error"
	MetricUsage       MetricType = "usage"
	MetricGuardrail   MetricType = "guardrail"
)

// MetricStatus is the outcome recorded alongside a metric.
type MetricStatus string

const (
	StatusSuccess MetricStatus = "success"
	StatusError   MetricStatus = "error"
	StatusInfo    MetricStatus = "info"
)

// Metric is a single record written to the sink.
type Metric struct {
	TraceID      string
	Timestamp    time.Time
	Type         MetricType
	Name         string
	Value        float64
	Metadata     map[string]any
	Status       MetricStatus
	Error        string
	UserID       string
	CompletionID string
}

// valid reports whether the record's field types and enumerations are
// well-formed. The sink silently discards invalid records rather than
// failing the caller.
func (m Metric) valid() bool {
	if m.Name == "" {
		return false
	}
	switch m.Type {
	case MetricPerformance, MetricError, MetricUsage, MetricGuardrail:
	default:
		return false
	}
	switch m.Status {
	case StatusSuccess, StatusError, StatusInfo:
	default:
		return false
	}
	return true
}

// Sink accepts validated metric records. Implementations must not block the
// caller for long and must never cause the caller to fail.
type Sink interface {
	Record(ctx context.Context, m Metric)
}

// NopSink discards every record. Used when no sink is configured — a
// missing sink is defined to be a no-op, never an error.
type NopSink struct{}

func (NopSink) Record(context.Context, Metric) {}

// PrometheusSink backs the Monitoring component with Prometheus
// CounterVec/HistogramVec series, grouped by the record's type and name.
type PrometheusSink struct {
	performance *prometheus.HistogramVec
	counts      *prometheus.CounterVec
	usage       *prometheus.CounterVec
	guardrail   *prometheus.CounterVec
}

// NewPrometheusSink registers the core's metric series with the given
// registerer (pass prometheus.DefaultRegisterer to use the default
// registry).
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		performance: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "core_operation_duration_seconds",
			Help:    "Duration of tracked operations, labeled by name and status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"name", "status"}),
		counts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "core_errors_total",
			Help: "Total number of error-type metric records, labeled by name.",
		}, []string{"name"}),
		usage: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "core_usage_total",
			Help: "Total value of usage-type metric records, labeled by name.",
		}, []string{"name"}),
		guardrail: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "core_guardrail_total",
			Help: "Total number of guardrail-type metric records, labeled by name and status.",
		}, []string{"name", "status"}),
	}
}

// Record implements Sink. Malformed records are discarded silently.
func (s *PrometheusSink) Record(_ context.Context, m Metric) {
	if !m.valid() {
		return
	}
	switch m.Type {
	case MetricPerformance:
		s.performance.WithLabelValues(m.Name, string(m.Status)).Observe(m.Value)
	case MetricError:
		s.counts.WithLabelValues(m.Name).Inc()
	case MetricUsage:
		s.usage.WithLabelValues(m.Name).Add(m.Value)
	case MetricGuardrail:
		s.guardrail.WithLabelValues(m.Name, string(m.Status)).Inc()
	}
}

// Track wraps an operation: it starts a timer, runs fn, and on return
// records a performance/success metric with the observed latency, or an
// error/error metric carrying the error's message. The error is always
// re-raised. A missing TraceID is filled with a generated one; a nil sink
// is a no-op.
func Track[T any](ctx context.Context, sink Sink, name string, traceID, userID, completionID string, fn func(context.Context) (T, error)) (T, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		sink.Record(ctx, Metric{
			TraceID:      traceID,
			Timestamp:    time.Now(),
			Type:         MetricError,
			Name:         name,
			Value:        elapsed,
			Status:       StatusError,
			Error:        err.Error(),
			UserID:       userID,
			CompletionID: completionID,
		})
		return result, err
	}

	sink.Record(ctx, Metric{
		TraceID:      traceID,
		Timestamp:    time.Now(),
		Type:         MetricPerformance,
		Name:         name,
		Value:        elapsed,
		Status:       StatusSuccess,
		UserID:       userID,
		CompletionID: completionID,
	})
	return result, nil
}
