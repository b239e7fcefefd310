package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"labos/pkg/domain"
)

// ExpvarMetricsRecorder aggregates operation counters, duration totals,
// and job state transitions, publishing the snapshot through expvar for
// the /debug/vars endpoint.
type ExpvarMetricsRecorder struct {
	mu        sync.Mutex
	name      string
	durations map[string]float64
	results   map[string]map[string]int64
	jobStates map[string]int64
}

var expvarRecorderCounter uint64

// NewExpvarMetricsRecorder publishes a recorder under name. Empty names
// get a unique generated one, since expvar rejects duplicate publishes.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("labos_service_metrics_%d", atomic.AddUint64(&expvarRecorderCounter, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: map[string]float64{},
		results:   map[string]map[string]int64{},
		jobStates: map[string]int64{},
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key the recorder publishes under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// IncOperation counts one operation outcome.
func (r *ExpvarMetricsRecorder) IncOperation(operation string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byStatus, ok := r.results[operation]
	if !ok {
		byStatus = map[string]int64{}
		r.results[operation] = byStatus
	}
	byStatus[status]++
}

// ObserveDuration accumulates an operation's elapsed time in milliseconds.
func (r *ExpvarMetricsRecorder) ObserveDuration(operation string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(d.Microseconds()) / 1000.0
}

// IncJobState counts one job state transition.
func (r *ExpvarMetricsRecorder) IncJobState(state domain.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobStates[string(state)]++
}

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, byStatus := range r.results {
		clone := make(map[string]int64, len(byStatus))
		for status, count := range byStatus {
			clone[status] = count
		}
		results[op] = clone
	}
	jobStates := make(map[string]int64, len(r.jobStates))
	for state, count := range r.jobStates {
		jobStates[state] = count
	}
	return map[string]any{
		"durations_ms": durations,
		"results":      results,
		"job_states":   jobStates,
	}
}

// PrometheusMetricsRecorder exposes operation and job metrics on a
// dedicated Prometheus registry, served at /metrics by the API.
type PrometheusMetricsRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	jobStates  *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder builds a recorder with its own registry so
// repeated construction never collides with the default one.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	rec := &PrometheusMetricsRecorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labos_operations_total",
			Help: "Registry service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labos_operation_duration_seconds",
			Help:    "Registry service operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labos_job_state_transitions_total",
			Help: "Job state transitions by resulting state.",
		}, []string{"state"}),
	}
	rec.registry.MustRegister(rec.operations, rec.durations, rec.jobStates)
	return rec
}

// Registry exposes the backing Prometheus registry for HTTP handlers.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// IncOperation counts one operation outcome.
func (r *PrometheusMetricsRecorder) IncOperation(operation string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
}

// ObserveDuration records an operation's elapsed time.
func (r *PrometheusMetricsRecorder) ObserveDuration(operation string, d time.Duration) {
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
}

// IncJobState counts one job state transition.
func (r *PrometheusMetricsRecorder) IncJobState(state domain.JobStatus) {
	r.jobStates.WithLabelValues(string(state)).Inc()
}

// JSONTraceEntry is one completed span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer retains completed spans in memory and, when constructed
// with a writer, streams each as a JSON line.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	encoder *json.Encoder
}

// NewJSONTraceTracer builds a tracer. A nil writer keeps spans in memory
// only.
func NewJSONTraceTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.encoder = json.NewEncoder(w)
	}
	return t
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now()}
}

// Entries returns a copy of the retained spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

func (t *JSONTraceTracer) record(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.encoder != nil {
		_ = t.encoder.Encode(entry)
	}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

// End implements TraceSpan.
func (s *jsonTraceSpan) End(err error) {
	ended := time.Now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started).Microseconds()) / 1000.0,
		StartedAt:  s.started.UTC(),
		EndedAt:    ended.UTC(),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.tracer.record(entry)
}
