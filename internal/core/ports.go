package core

import (
	"context"
	"time"

	"labos/pkg/domain"
)

// Clock supplies timestamps for service-side bookkeeping so tests can pin
// time precisely.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Recorder appends one event to the tamper-evident audit chain. The
// internal/audit logger satisfies it directly.
type Recorder interface {
	Record(ctx context.Context, eventType, actor string, payload map[string]any) (domain.AuditEvent, error)
}

// ChainVerifier is an optional capability of a Recorder that can replay
// and verify its own chain.
type ChainVerifier interface {
	Verify(ctx context.Context, day string) (VerificationResult, error)
	VerifyAll(ctx context.Context) ([]VerificationResult, error)
}

// EventLister is an optional capability of a Recorder that can read back
// recorded events for provenance queries.
type EventLister interface {
	AllEvents(ctx context.Context) ([]domain.AuditEvent, error)
	Tail(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}

// MetricsRecorder observes service operations and job state transitions.
type MetricsRecorder interface {
	IncOperation(operation string, success bool)
	ObserveDuration(operation string, d time.Duration)
	IncJobState(state domain.JobStatus)
}

// Tracer opens spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a single traced operation.
type TraceSpan interface {
	End(err error)
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, string, string, map[string]any) (domain.AuditEvent, error) {
	return domain.AuditEvent{}, nil
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) IncOperation(string, bool)             {}
func (noopMetricsRecorder) ObserveDuration(string, time.Duration) {}
func (noopMetricsRecorder) IncJobState(domain.JobStatus)          {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
