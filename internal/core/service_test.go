package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"labos/internal/infra/persistence/memory"
	"labos/pkg/domain"
	"labos/pkg/moduleapi"
)

// captureRecorder retains chain events in memory for assertions.
type captureRecorder struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *captureRecorder) Record(_ context.Context, eventType, actor string, payload map[string]any) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event := domain.AuditEvent{
		EventID:   fmt.Sprintf("ev-%03d", len(r.events)+1),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
	}
	r.events = append(r.events, event)
	return event, nil
}

func (r *captureRecorder) Events() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...)
}

func (r *captureRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.EventType)
	}
	return out
}

func (r *captureRecorder) Last() domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.AuditEvent{}
	}
	return r.events[len(r.events)-1]
}

// tickingStore returns a memory store whose clock advances one second per
// read, starting at a fixed instant.
func tickingStore(t *testing.T) *memory.Store {
	t.Helper()
	store := NewMemoryStore(NewDefaultRulesEngine())
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	var ticks int
	var mu sync.Mutex
	store.SetNowFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	})
	return store
}

func newTestService(t *testing.T) (*Service, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	svc := NewService(tickingStore(t), WithAuditRecorder(rec))
	return svc, rec
}

func TestCreateExperimentDefaultsAndAudit(t *testing.T) {
	svc, rec := newTestService(t)

	created, res, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Catalyst screening"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if created.Owner != DefaultOwner {
		t.Fatalf("expected default owner %q, got %q", DefaultOwner, created.Owner)
	}
	if created.Status != domain.ExperimentStatusDraft {
		t.Fatalf("expected draft status, got %s", created.Status)
	}

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	event := events[0]
	if event.EventType != EventExperimentCreated {
		t.Fatalf("expected %s, got %s", EventExperimentCreated, event.EventType)
	}
	if event.Actor != DefaultOwner {
		t.Fatalf("expected actor %q, got %q", DefaultOwner, event.Actor)
	}
	if event.Payload["experiment_id"] != created.ID {
		t.Fatalf("payload experiment_id mismatch: %v", event.Payload)
	}
}

func TestCreateExperimentRequiresTitle(t *testing.T) {
	svc, rec := newTestService(t)

	_, _, err := svc.CreateExperiment(context.Background(), Experiment{Owner: "rivera"})
	var invalid domain.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("no audit event expected on validation failure")
	}
}

func TestUpdateExperimentStatusFollowsLifecycle(t *testing.T) {
	svc, rec := newTestService(t)
	created, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Lifecycle"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, _, err := svc.UpdateExperimentStatus(context.Background(), created.ID, domain.ExperimentStatusActive, "rivera")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if updated.Status != domain.ExperimentStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	last := rec.Last()
	if last.EventType != EventExperimentUpdated || last.Actor != "rivera" {
		t.Fatalf("unexpected event %+v", last)
	}
	if last.Payload["from"] != string(domain.ExperimentStatusDraft) || last.Payload["to"] != string(domain.ExperimentStatusActive) {
		t.Fatalf("unexpected transition payload %v", last.Payload)
	}

	// active -> draft is not in the lifecycle graph.
	_, _, err = svc.UpdateExperimentStatus(context.Background(), created.ID, domain.ExperimentStatusDraft, "rivera")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	got, err := svc.GetExperiment(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ExperimentStatusActive {
		t.Fatalf("blocked update must not change status, got %s", got.Status)
	}
}

func TestUpdateExperimentStatusRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)
	created, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Unknown status"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err = svc.UpdateExperimentStatus(context.Background(), created.ID, domain.ExperimentStatus("archived"), "")
	var invalid domain.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}

	_, _, err = svc.UpdateExperimentStatus(context.Background(), "EXP-missing", domain.ExperimentStatusActive, "")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegisterDatasetWarnsWithoutURI(t *testing.T) {
	svc, rec := newTestService(t)

	created, res, err := svc.RegisterDataset(context.Background(), DatasetRef{Label: "Raw traces", Owner: "chen"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.Type != domain.DatasetTypeExperimental {
		t.Fatalf("expected experimental default, got %s", created.Type)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != datasetURIPresentRuleName {
		t.Fatalf("expected one uri warning, got %+v", res.Violations)
	}
	if res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("uri rule must warn, not block")
	}

	last := rec.Last()
	if last.EventType != EventDatasetRegistered || last.Actor != "chen" {
		t.Fatalf("unexpected event %+v", last)
	}
	if _, ok := last.Payload["uri"]; ok {
		t.Fatalf("empty uri must not appear in payload: %v", last.Payload)
	}

	_, _, err = svc.RegisterDataset(context.Background(), DatasetRef{Owner: "chen"})
	var invalid domain.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "label" {
		t.Fatalf("expected label validation error, got %v", err)
	}
}

func TestCreateJobEnforcesExperimentExists(t *testing.T) {
	svc, rec := newTestService(t)

	_, _, err := svc.CreateJob(context.Background(), Job{ExperimentID: "EXP-ghost", ModuleKey: "demo.echo"})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError for unknown experiment, got %v", err)
	}
	jobs, err := svc.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("blocked job must not persist, got %d", len(jobs))
	}

	exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Host"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	job, _, err := svc.CreateJob(context.Background(), Job{ExperimentID: exp.ID, ModuleKey: "demo.echo"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.Operation != moduleapi.DefaultOperation {
		t.Fatalf("expected default operation, got %q", job.Operation)
	}
	last := rec.Last()
	if last.EventType != EventJobCreated || last.Payload["job_id"] != job.ID {
		t.Fatalf("unexpected event %+v", last)
	}

	_, _, err = svc.CreateJob(context.Background(), Job{ExperimentID: exp.ID})
	var invalid domain.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "module_key" {
		t.Fatalf("expected module_key validation error, got %v", err)
	}
}

func TestCancelJobOnlyBeforeTerminal(t *testing.T) {
	svc, rec := newTestService(t)
	exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Cancel"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	job, _, err := svc.CreateJob(context.Background(), Job{ExperimentID: exp.ID, ModuleKey: "demo.echo"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	cancelled, _, err := svc.CancelJob(context.Background(), job.ID, "rivera")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Fatalf("expected completion stamp")
	}
	if rec.Last().EventType != EventJobCancelled {
		t.Fatalf("expected %s event, got %s", EventJobCancelled, rec.Last().EventType)
	}

	_, _, err = svc.CancelJob(context.Background(), job.ID, "rivera")
	var invalid domain.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("cancelling a terminal job must fail validation, got %v", err)
	}

	_, _, err = svc.CancelJob(context.Background(), "JOB-ghost", "")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListExperimentsOrderedByCreation(t *testing.T) {
	svc, _ := newTestService(t)
	titles := []string{"zeta", "alpha", "midway"}
	ids := make([]string, 0, len(titles))
	for _, title := range titles {
		exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, exp.ID)
	}

	list, err := svc.ListExperiments(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != len(ids) {
		t.Fatalf("expected %d experiments, got %d", len(ids), len(list))
	}
	for i, exp := range list {
		if exp.ID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], exp.ID)
		}
	}
}

func TestGetExperimentNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetExperiment(context.Background(), "EXP-missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := svc.GetDataset(context.Background(), "DS-missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := svc.GetJob(context.Background(), "JOB-missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestServiceClockPrefersStoreNowFunc(t *testing.T) {
	store := NewMemoryStore(NewDefaultRulesEngine())
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	svc := NewService(store)

	exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Pinned"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	job, _, err := svc.CreateJob(context.Background(), Job{ExperimentID: exp.ID, ModuleKey: "demo.echo"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	cancelled, _, err := svc.CancelJob(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled.CompletedAt.Equal(fixed) {
		t.Fatalf("expected completion stamp %v from store clock, got %v", fixed, cancelled.CompletedAt)
	}
}

func TestWithClockOverridesStoreTime(t *testing.T) {
	store := NewMemoryStore(NewDefaultRulesEngine())
	serviceTime := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(ClockFunc(func() time.Time { return serviceTime })))

	exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Title: "Override"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	job, _, err := svc.CreateJob(context.Background(), Job{ExperimentID: exp.ID, ModuleKey: "demo.echo"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	cancelled, _, err := svc.CancelJob(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled.CompletedAt.Equal(serviceTime) {
		t.Fatalf("expected completion stamp %v from WithClock, got %v", serviceTime, cancelled.CompletedAt)
	}
}

type testPlugin struct {
	name    string
	version string
	fail    bool
}

func (p testPlugin) Name() string    { return p.name }
func (p testPlugin) Version() string { return p.version }

func (p testPlugin) Register(reg moduleapi.Registry) error {
	if p.fail {
		return fmt.Errorf("registration refused")
	}
	if err := reg.RegisterModule(echoDescriptor("0.3.0")); err != nil {
		return err
	}
	reg.RegisterRule(datasetTagRule{})
	return nil
}

// datasetTagRule warns about untagged datasets; used to prove plugin rules
// reach the engine.
type datasetTagRule struct{}

func (datasetTagRule) Name() string { return "dataset_tagged" }

func (datasetTagRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityDataset || change.Action != domain.ActionCreate {
			continue
		}
		ds, ok := decodeChangePayload[domain.DatasetRef](change.After)
		if !ok || len(ds.Tags) > 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "dataset_tagged",
			Severity: domain.SeverityWarn,
			Message:  "dataset has no tags",
			Entity:   domain.EntityDataset,
			EntityID: ds.ID,
		})
	}
	return res, nil
}

func TestInstallPluginRegistersModulesAndRules(t *testing.T) {
	svc, _ := newTestService(t)

	meta, err := svc.InstallPlugin(testPlugin{name: "demo", version: "1.0.0"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if meta.Name != "demo" || meta.Version != "1.0.0" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if len(meta.Modules) != 1 || meta.Modules[0] != "demo.echo@0.3.0" {
		t.Fatalf("unexpected modules %v", meta.Modules)
	}
	if _, ok := svc.Modules().Resolve("demo.echo"); !ok {
		t.Fatalf("module must be resolvable after install")
	}

	// The plugin's rule now warns about untagged datasets.
	_, res, err := svc.RegisterDataset(context.Background(), DatasetRef{Label: "Untagged", URI: "file:///x"})
	if err != nil {
		t.Fatalf("register dataset: %v", err)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == "dataset_tagged" {
			found = true
		}
	}
	if !found {
		t.Fatalf("plugin rule did not run: %+v", res.Violations)
	}

	if _, err := svc.InstallPlugin(testPlugin{name: "demo", version: "1.0.1"}); err == nil {
		t.Fatalf("duplicate plugin name must be rejected")
	}
	if _, err := svc.InstallPlugin(testPlugin{name: "broken", version: "0.0.1", fail: true}); err == nil {
		t.Fatalf("registration failure must propagate")
	}

	plugins := svc.RegisteredPlugins()
	if len(plugins) != 1 || plugins[0].Name != "demo" {
		t.Fatalf("unexpected registered plugins %+v", plugins)
	}
}
