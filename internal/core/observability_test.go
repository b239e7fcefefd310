package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"labos/pkg/domain"
)

// captureMetrics records every port call for instrumentation assertions.
type captureMetrics struct {
	mu        sync.Mutex
	ops       map[string]map[bool]int
	durations map[string]int
	jobStates map[domain.JobStatus]int
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{
		ops:       map[string]map[bool]int{},
		durations: map[string]int{},
		jobStates: map[domain.JobStatus]int{},
	}
}

func (m *captureMetrics) IncOperation(operation string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOutcome, ok := m.ops[operation]
	if !ok {
		byOutcome = map[bool]int{}
		m.ops[operation] = byOutcome
	}
	byOutcome[success]++
}

func (m *captureMetrics) ObserveDuration(operation string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[operation]++
}

func (m *captureMetrics) IncJobState(state domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStates[state]++
}

func (m *captureMetrics) opCount(operation string, success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[operation][success]
}

func (m *captureMetrics) jobStateCount(state domain.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobStates[state]
}

func TestServiceInstrumentsOperations(t *testing.T) {
	metrics := newCaptureMetrics()
	svc := NewService(tickingStore(t), WithMetrics(metrics))

	if _, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Metered"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateExperiment(context.Background(), Experiment{}); err == nil {
		t.Fatalf("expected validation failure")
	}

	if got := metrics.opCount("create_experiment", true); got != 1 {
		t.Fatalf("expected one success, got %d", got)
	}
	if got := metrics.opCount("create_experiment", false); got != 1 {
		t.Fatalf("expected one failure, got %d", got)
	}
	metrics.mu.Lock()
	observed := metrics.durations["create_experiment"]
	metrics.mu.Unlock()
	if observed != 2 {
		t.Fatalf("expected two duration observations, got %d", observed)
	}
}

func TestServiceCountsJobStates(t *testing.T) {
	metrics := newCaptureMetrics()
	rec := &captureRecorder{}
	svc := NewService(tickingStore(t), WithMetrics(metrics), WithAuditRecorder(rec))
	if err := svc.Modules().Register(echoDescriptor("1.0.0")); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.RunModuleJob(context.Background(), RunModuleRequest{ModuleKey: "demo.echo"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, state := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusSucceeded} {
		if got := metrics.jobStateCount(state); got != 1 {
			t.Fatalf("expected one %s transition, got %d", state, got)
		}
	}
}

func TestExpvarMetricsRecorderSnapshot(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatalf("expected generated expvar name")
	}
	other := NewExpvarMetricsRecorder("")
	if other.Name() == rec.Name() {
		t.Fatalf("generated names must be unique, got %q twice", rec.Name())
	}

	rec.IncOperation("create_experiment", true)
	rec.IncOperation("create_experiment", true)
	rec.IncOperation("create_experiment", false)
	rec.ObserveDuration("create_experiment", 1500*time.Microsecond)
	rec.ObserveDuration("create_experiment", 500*time.Microsecond)
	rec.IncJobState(domain.JobStatusPending)

	snapshot := rec.Snapshot()
	results := snapshot["results"].(map[string]map[string]int64)
	if results["create_experiment"]["success"] != 2 || results["create_experiment"]["error"] != 1 {
		t.Fatalf("unexpected results %v", results)
	}
	durations := snapshot["durations_ms"].(map[string]float64)
	if durations["create_experiment"] != 2.0 {
		t.Fatalf("expected 2ms accumulated, got %v", durations["create_experiment"])
	}
	jobStates := snapshot["job_states"].(map[string]int64)
	if jobStates[string(domain.JobStatusPending)] != 1 {
		t.Fatalf("unexpected job states %v", jobStates)
	}

	// Snapshot must be detached from live state.
	results["create_experiment"]["success"] = 99
	if rec.Snapshot()["results"].(map[string]map[string]int64)["create_experiment"]["success"] != 2 {
		t.Fatalf("snapshot mutation leaked into the recorder")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()

	rec.IncOperation("register_dataset", true)
	rec.IncOperation("register_dataset", false)
	rec.IncOperation("register_dataset", false)
	rec.ObserveDuration("register_dataset", 20*time.Millisecond)
	rec.IncJobState(domain.JobStatusSucceeded)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("register_dataset", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("register_dataset", "error")); got != 2 {
		t.Fatalf("expected 2 errors, got %v", got)
	}
	if got := testutil.ToFloat64(rec.jobStates.WithLabelValues(string(domain.JobStatusSucceeded))); got != 1 {
		t.Fatalf("expected 1 succeeded transition, got %v", got)
	}
	if got := testutil.CollectAndCount(rec.durations, "labos_operation_duration_seconds"); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}

	// Construction twice must not panic: each recorder owns its registry.
	_ = NewPrometheusMetricsRecorder()
}

func TestJSONTraceTracerRecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTraceTracer(&buf)
	svc := NewService(tickingStore(t), WithTracer(tracer))

	if _, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Traced"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateExperiment(context.Background(), Experiment{}); err == nil {
		t.Fatalf("expected validation failure")
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two spans, got %d", len(entries))
	}
	if entries[0].Operation != "create_experiment" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected second span %+v", entries[1])
	}
	if entries[0].EndedAt.Before(entries[0].StartedAt) {
		t.Fatalf("span ended before it started: %+v", entries[0])
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two JSON lines, got %d", len(lines))
	}
	for i, line := range lines {
		var entry JSONTraceEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
	}
}

func TestJSONTraceTracerWithoutWriter(t *testing.T) {
	tracer := NewJSONTraceTracer(nil)
	_, span := tracer.Start(context.Background(), "cancel_job")
	span.End(nil)
	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "cancel_job" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
