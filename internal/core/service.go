// Package core implements the registry service: transactional CRUD over
// experiments, jobs, and dataset references, module execution workflows
// with full lineage, and the audit, metrics, and tracing seams around them.
package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"labos/internal/artifact"
	"labos/pkg/domain"
	"labos/pkg/moduleapi"
)

// Audit event types emitted by registry operations.
const (
	EventExperimentCreated = "experiment.created"
	EventExperimentUpdated = "experiment.updated"
	EventDatasetRegistered = "dataset.registered"
	EventDatasetLinked     = "dataset.linked"
	EventJobCreated        = "job.created"
	EventJobRunning        = "job.running"
	EventJobSucceeded      = "job.succeeded"
	EventJobFailed         = "job.failed"
	EventJobCancelled      = "job.cancelled"
	EventModuleExecuted    = "module.executed"
	EventSignatureRecorded = "signature.recorded"
)

// DefaultOwner is assigned when a record arrives without one.
const DefaultOwner = "local-user"

// systemActor attributes events no human initiated.
const systemActor = "system"

// Service coordinates registry storage, the module registry, the audit
// chain, and observability. All exported methods are safe for concurrent
// use when the underlying store is.
type Service struct {
	store     domain.PersistentStore
	audit     Recorder
	logger    domain.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	artifacts artifact.Store
	modules   *ModuleRegistry

	pluginsMu sync.Mutex
	plugins   map[string]PluginMetadata
}

// Option customizes Service construction.
type Option func(*Service)

// WithAuditRecorder routes chain events to rec instead of discarding them.
func WithAuditRecorder(rec Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger domain.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches an operation metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer attaches an operation tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithArtifacts attaches the store that keeps job results and signature
// envelopes. Without it those writes are skipped.
func WithArtifacts(store artifact.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.artifacts = store
		}
	}
}

// WithModules shares a prebuilt module registry instead of starting empty.
func WithModules(registry *ModuleRegistry) Option {
	return func(s *Service) {
		if registry != nil {
			s.modules = registry
		}
	}
}

// NewService wires a Service around an opened store. Options replace the
// no-op defaults for auditing, logging, metrics, tracing, and time.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		audit:   noopRecorder{},
		logger:  domain.NopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		modules: NewModuleRegistry(),
		plugins: map[string]PluginMetadata{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.clock == nil {
		s.clock = storeClock(store)
	}
	return s
}

// NewInMemoryService builds a Service over a fresh in-memory store. A nil
// engine installs the default registry rules.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(NewMemoryStore(engine), opts...)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// storeClock prefers the store's injected time source so service stamps
// line up with record stamps.
func storeClock(store domain.PersistentStore) Clock {
	if provider, ok := store.(interface{ NowFunc() func() time.Time }); ok {
		if fn := provider.NowFunc(); fn != nil {
			return ClockFunc(fn)
		}
	}
	return systemClock{}
}

// Store exposes the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Modules exposes the module registry.
func (s *Service) Modules() *ModuleRegistry { return s.modules }

// Recorder exposes the audit recorder for capability probing (chain
// verification, event listing).
func (s *Service) Recorder() Recorder { return s.audit }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// run wraps one operation with tracing, metrics, and outcome logging.
// Durations are measured on the wall clock, not the service clock.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.IncOperation(operation, err == nil)
	s.metrics.ObserveDuration(operation, elapsed)
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "error", err.Error())
		return err
	}
	s.logger.Debug("operation complete", "operation", operation, "duration_ms", elapsed.Milliseconds())
	return nil
}

// recordAudit appends one chain event. Append failures are logged; the
// registry mutation has already committed.
func (s *Service) recordAudit(ctx context.Context, eventType, actor string, payload map[string]any) domain.AuditEvent {
	event, err := s.audit.Record(ctx, eventType, actor, payload)
	if err != nil {
		s.logger.Error("audit record failed", "event_type", eventType, "error", err.Error())
	}
	return event
}

func (s *Service) logWarnings(operation string, res Result) {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.logger.Warn("rule violation", "operation", operation, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
		}
	}
}

// CreateExperiment records a new experiment. Title is required; the owner
// defaults to DefaultOwner and new experiments start in draft.
func (s *Service) CreateExperiment(ctx context.Context, exp Experiment) (Experiment, Result, error) {
	var created Experiment
	var res Result
	err := s.run(ctx, "create_experiment", func(ctx context.Context) error {
		if exp.Title == "" {
			return domain.ValidationError{Field: "title", Reason: "required"}
		}
		if exp.Owner == "" {
			exp.Owner = DefaultOwner
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var txErr error
			created, txErr = tx.CreateExperiment(exp)
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("create_experiment", res)
		s.recordAudit(ctx, EventExperimentCreated, created.Owner, map[string]any{
			"experiment_id": created.ID,
			"title":         created.Title,
			"status":        string(created.Status),
		})
		return nil
	})
	return created, res, err
}

// UpdateExperimentStatus moves an experiment through its lifecycle. Legal
// transitions are enforced by the experiment_status_transition rule.
func (s *Service) UpdateExperimentStatus(ctx context.Context, id string, status domain.ExperimentStatus, actor string) (Experiment, Result, error) {
	var updated Experiment
	var res Result
	err := s.run(ctx, "update_experiment_status", func(ctx context.Context) error {
		if !status.Known() {
			return domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
		}
		var from domain.ExperimentStatus
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindExperiment(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
			}
			from = current.Status
			var txErr error
			updated, txErr = tx.UpdateExperiment(id, func(e *Experiment) error {
				e.Status = status
				return nil
			})
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("update_experiment_status", res)
		if actor == "" {
			actor = systemActor
		}
		s.recordAudit(ctx, EventExperimentUpdated, actor, map[string]any{
			"experiment_id": updated.ID,
			"from":          string(from),
			"to":            string(updated.Status),
		})
		return nil
	})
	return updated, res, err
}

// GetExperiment returns one experiment by id.
func (s *Service) GetExperiment(_ context.Context, id string) (Experiment, error) {
	exp, ok := s.store.GetExperiment(id)
	if !ok {
		return Experiment{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
	}
	return exp, nil
}

// ListExperiments returns all experiments ordered by creation time.
func (s *Service) ListExperiments(_ context.Context) ([]Experiment, error) {
	out := s.store.ListExperiments()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RegisterDataset records a dataset reference. Label is required; the
// owner defaults to DefaultOwner and the type defaults to experimental.
func (s *Service) RegisterDataset(ctx context.Context, ds DatasetRef) (DatasetRef, Result, error) {
	var created DatasetRef
	var res Result
	err := s.run(ctx, "register_dataset", func(ctx context.Context) error {
		if ds.Label == "" {
			return domain.ValidationError{Field: "label", Reason: "required"}
		}
		if ds.Owner == "" {
			ds.Owner = DefaultOwner
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var txErr error
			created, txErr = tx.CreateDataset(ds)
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("register_dataset", res)
		payload := map[string]any{
			"dataset_id": created.ID,
			"label":      created.Label,
			"type":       string(created.Type),
		}
		if created.URI != "" {
			payload["uri"] = created.URI
		}
		s.recordAudit(ctx, EventDatasetRegistered, created.Owner, payload)
		return nil
	})
	return created, res, err
}

// GetDataset returns one dataset reference by id.
func (s *Service) GetDataset(_ context.Context, id string) (DatasetRef, error) {
	ds, ok := s.store.GetDataset(id)
	if !ok {
		return DatasetRef{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	return ds, nil
}

// ListDatasets returns all dataset references ordered by creation time.
func (s *Service) ListDatasets(_ context.Context) ([]DatasetRef, error) {
	out := s.store.ListDatasets()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateJob records a pending job. The module key is required and the
// operation defaults to "compute". The job_experiment_exists rule blocks
// jobs pointing at unknown experiments.
func (s *Service) CreateJob(ctx context.Context, job Job) (Job, Result, error) {
	var created Job
	var res Result
	err := s.run(ctx, "create_job", func(ctx context.Context) error {
		if job.ModuleKey == "" {
			return domain.ValidationError{Field: "module_key", Reason: "required"}
		}
		if job.Operation == "" {
			job.Operation = moduleapi.DefaultOperation
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var txErr error
			created, txErr = tx.CreateJob(job)
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("create_job", res)
		s.metrics.IncJobState(created.Status)
		s.recordAudit(ctx, EventJobCreated, systemActor, map[string]any{
			"job_id":        created.ID,
			"experiment_id": created.ExperimentID,
			"module_key":    created.ModuleKey,
			"operation":     created.Operation,
			"status":        string(created.Status),
		})
		return nil
	})
	return created, res, err
}

// GetJob returns one job by id.
func (s *Service) GetJob(_ context.Context, id string) (Job, error) {
	job, ok := s.store.GetJob(id)
	if !ok {
		return Job{}, domain.NotFoundError{Entity: domain.EntityJob, ID: id}
	}
	return job, nil
}

// ListJobs returns all jobs ordered by creation time.
func (s *Service) ListJobs(_ context.Context) ([]Job, error) {
	out := s.store.ListJobs()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CancelJob marks a pending or running job cancelled. Terminal jobs are
// rejected.
func (s *Service) CancelJob(ctx context.Context, id string, actor string) (Job, Result, error) {
	var cancelled Job
	var res Result
	err := s.run(ctx, "cancel_job", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.Snapshot().FindJob(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityJob, ID: id}
			}
			if current.Status.Terminal() {
				return domain.ValidationError{Field: "status", Reason: "job " + id + " already " + string(current.Status)}
			}
			completed := s.now()
			var txErr error
			cancelled, txErr = tx.UpdateJob(id, func(j *Job) error {
				j.Status = domain.JobStatusCancelled
				j.CompletedAt = &completed
				return nil
			})
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("cancel_job", res)
		s.metrics.IncJobState(cancelled.Status)
		if actor == "" {
			actor = systemActor
		}
		s.recordAudit(ctx, EventJobCancelled, actor, map[string]any{
			"job_id":        cancelled.ID,
			"experiment_id": cancelled.ExperimentID,
			"status":        string(cancelled.Status),
		})
		return nil
	})
	return cancelled, res, err
}

// PluginMetadata summarizes an installed plugin.
type PluginMetadata struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Modules []string `json:"modules,omitempty"`
}

// InstallPlugin registers the plugin's modules and rules. Rules require a
// store that exposes its rules engine.
func (s *Service) InstallPlugin(plugin moduleapi.Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, domain.ValidationError{Field: "plugin", Reason: "nil plugin"}
	}
	name := plugin.Name()
	if name == "" {
		return PluginMetadata{}, domain.ValidationError{Field: "plugin", Reason: "name required"}
	}

	s.pluginsMu.Lock()
	defer s.pluginsMu.Unlock()
	if _, exists := s.plugins[name]; exists {
		return PluginMetadata{}, domain.ValidationError{Field: "plugin", Reason: "plugin " + name + " already installed"}
	}

	installer := &pluginInstaller{modules: s.modules}
	if err := plugin.Register(installer); err != nil {
		return PluginMetadata{}, err
	}
	if len(installer.rules) > 0 {
		provider, ok := s.store.(interface{ RulesEngine() *domain.RulesEngine })
		if !ok {
			return PluginMetadata{}, domain.ConfigurationError{Key: "store", Reason: "store does not accept plugin rules"}
		}
		engine := provider.RulesEngine()
		for _, rule := range installer.rules {
			engine.Register(rule)
		}
	}

	sort.Strings(installer.installed)
	meta := PluginMetadata{Name: name, Version: plugin.Version(), Modules: installer.installed}
	s.plugins[name] = meta
	s.logger.Info("plugin installed", "plugin", name, "version", meta.Version, "modules", len(meta.Modules))
	return meta, nil
}

// RegisteredPlugins lists installed plugin metadata sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.pluginsMu.Lock()
	defer s.pluginsMu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// pluginInstaller adapts the service to moduleapi.Registry during one
// InstallPlugin call.
type pluginInstaller struct {
	modules   *ModuleRegistry
	rules     []domain.Rule
	installed []string
}

func (p *pluginInstaller) RegisterModule(descriptor moduleapi.Descriptor) error {
	if err := p.modules.Register(descriptor); err != nil {
		return err
	}
	p.installed = append(p.installed, descriptor.Slug())
	return nil
}

func (p *pluginInstaller) RegisterRule(rule domain.Rule) {
	if rule != nil {
		p.rules = append(p.rules, rule)
	}
}
