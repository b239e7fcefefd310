// Package memory provides an in-memory implementation of the registry
// persistence store used for tests and ephemeral environments, and as the
// working state the durable drivers hydrate and snapshot.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"labos/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the
// domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = transactionView{}
	_ domain.RuleView        = transactionView{}
)

type (
	// Experiment aliases domain.Experiment for in-memory persistence operations.
	Experiment = domain.Experiment
	// Job aliases domain.Job.
	Job = domain.Job
	// DatasetRef aliases domain.DatasetRef.
	DatasetRef = domain.DatasetRef
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// ID prefixes keep record identifiers sortable by creation time and
// recognisable by registry.
const (
	ExperimentIDPrefix = "EXP"
	JobIDPrefix        = "JOB"
	DatasetIDPrefix    = "DS"
)

func mustPayload(label string, value any) domain.ChangePayload {
	payload, err := domain.NewChangePayloadFromValue(value)
	if err != nil {
		panic(fmt.Errorf("memory store %s: %w", label, err))
	}
	return payload
}

type memoryState struct {
	experiments map[string]Experiment
	jobs        map[string]Job
	datasets    map[string]DatasetRef
}

func newMemoryState() memoryState {
	return memoryState{
		experiments: map[string]Experiment{},
		jobs:        map[string]Job{},
		datasets:    map[string]DatasetRef{},
	}
}

// Snapshot captures a point-in-time clone of the store state. Durable drivers
// marshal it per bucket and hydrate it back through ImportState.
type Snapshot struct {
	Experiments map[string]Experiment `json:"experiments"`
	Jobs        map[string]Job        `json:"jobs"`
	Datasets    map[string]DatasetRef `json:"datasets"`
}

// migrateSnapshot normalises a hydrated snapshot: nil maps become empty,
// jobs whose experiment vanished are dropped, and experiment job listings are
// filtered to jobs that still exist.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Experiments == nil {
		snapshot.Experiments = map[string]Experiment{}
	}
	if snapshot.Jobs == nil {
		snapshot.Jobs = map[string]Job{}
	}
	if snapshot.Datasets == nil {
		snapshot.Datasets = map[string]DatasetRef{}
	}

	experimentExists := func(id string) bool {
		_, ok := snapshot.Experiments[id]
		return ok
	}

	for id, job := range snapshot.Jobs {
		if job.ExperimentID == "" || !experimentExists(job.ExperimentID) {
			delete(snapshot.Jobs, id)
			continue
		}
		if job.Status == "" {
			job.Status = domain.JobStatusPending
		}
		snapshot.Jobs[id] = job
	}

	for id, exp := range snapshot.Experiments {
		if exp.Status == "" {
			exp.Status = domain.ExperimentStatusDraft
		}
		exp.JobIDs = sortedJobIDs(snapshot.Jobs, id)
		snapshot.Experiments[id] = exp
	}

	return snapshot
}

func sortedJobIDs(jobs map[string]Job, experimentID string) []string {
	var ids []string
	for _, job := range jobs {
		if job.ExperimentID == experimentID {
			ids = append(ids, job.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snapshot := Snapshot{
		Experiments: make(map[string]Experiment, len(state.experiments)),
		Jobs:        make(map[string]Job, len(state.jobs)),
		Datasets:    make(map[string]DatasetRef, len(state.datasets)),
	}
	for id, exp := range state.experiments {
		snapshot.Experiments[id] = cloneExperiment(exp)
	}
	for id, job := range state.jobs {
		snapshot.Jobs[id] = cloneJob(job)
	}
	for id, ds := range state.datasets {
		snapshot.Datasets[id] = cloneDataset(ds)
	}
	return snapshot
}

func memoryStateFromSnapshot(snapshot Snapshot) memoryState {
	state := newMemoryState()
	for id, exp := range snapshot.Experiments {
		state.experiments[id] = cloneExperiment(exp)
	}
	for id, job := range snapshot.Jobs {
		state.jobs[id] = cloneJob(job)
	}
	for id, ds := range snapshot.Datasets {
		state.datasets[id] = cloneDataset(ds)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.experiments {
		cloned.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.jobs {
		cloned.jobs[k] = cloneJob(v)
	}
	for k, v := range s.datasets {
		cloned.datasets[k] = cloneDataset(v)
	}
	return cloned
}

func cloneExperiment(e Experiment) Experiment {
	cp := e
	cp.Tags = append([]string(nil), e.Tags...)
	cp.JobIDs = append([]string(nil), e.JobIDs...)
	cp.Metadata = cloneStringMap(e.Metadata)
	return cp
}

func cloneJob(j Job) Job {
	cp := j
	cp.Params = cloneAnyMap(j.Params)
	cp.DatasetsIn = append([]string(nil), j.DatasetsIn...)
	cp.DatasetsOut = append([]string(nil), j.DatasetsOut...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

func cloneDataset(d DatasetRef) DatasetRef {
	cp := d
	cp.Tags = append([]string(nil), d.Tags...)
	cp.Metadata = cloneStringMap(d.Metadata)
	return cp
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store provides an in-memory transactional store for the registry domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// NewID mints a sortable identifier: prefix, compact UTC stamp with
// microseconds, and a short random suffix for same-tick collisions.
func (s *Store) NewID(prefix string) string {
	now := s.nowFn().UTC()
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s-%s%06d-%s", prefix, now.Format("20060102150405"), now.Nanosecond()/1000, hex.EncodeToString(b[:]))
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine for integration points like plugins.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Intended for tests and for drivers
// that need deterministic stamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction is a mutation set applied to a cloned copy of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// ListExperiments returns all experiments within the snapshot.
func (v transactionView) ListExperiments() []Experiment {
	out := make([]Experiment, 0, len(v.state.experiments))
	for _, e := range v.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	return out
}

// ListJobs returns all jobs within the snapshot.
func (v transactionView) ListJobs() []Job {
	out := make([]Job, 0, len(v.state.jobs))
	for _, j := range v.state.jobs {
		out = append(out, cloneJob(j))
	}
	return out
}

// ListDatasets returns all dataset references within the snapshot.
func (v transactionView) ListDatasets() []DatasetRef {
	out := make([]DatasetRef, 0, len(v.state.datasets))
	for _, d := range v.state.datasets {
		out = append(out, cloneDataset(d))
	}
	return out
}

// FindExperiment retrieves an experiment by id from the snapshot.
func (v transactionView) FindExperiment(id string) (Experiment, bool) {
	e, ok := v.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// FindJob retrieves a job by id from the snapshot.
func (v transactionView) FindJob(id string) (Job, bool) {
	j, ok := v.state.jobs[id]
	if !ok {
		return Job{}, false
	}
	return cloneJob(j), true
}

// FindDataset retrieves a dataset reference by id from the snapshot.
func (v transactionView) FindDataset(id string) (DatasetRef, bool) {
	d, ok := v.state.datasets[id]
	if !ok {
		return DatasetRef{}, false
	}
	return cloneDataset(d), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The rules engine evaluates the accumulated changes before commit; a blocking
// violation aborts with domain.RuleViolationError and leaves state untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindExperiment exposes experiment lookup within the transaction scope.
func (tx *transaction) FindExperiment(id string) (Experiment, bool) {
	e, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// FindDataset exposes dataset lookup within the transaction scope.
func (tx *transaction) FindDataset(id string) (DatasetRef, bool) {
	d, ok := tx.state.datasets[id]
	if !ok {
		return DatasetRef{}, false
	}
	return cloneDataset(d), true
}

// CreateExperiment inserts a new experiment record.
func (tx *transaction) CreateExperiment(e Experiment) (Experiment, error) {
	if e.ID == "" {
		e.ID = tx.store.NewID(ExperimentIDPrefix)
	}
	if _, exists := tx.state.experiments[e.ID]; exists {
		return Experiment{}, fmt.Errorf("experiment %q already exists", e.ID)
	}
	if e.Status == "" {
		e.Status = domain.ExperimentStatusDraft
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.experiments[e.ID] = cloneExperiment(e)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionCreate, After: mustPayload("create experiment", cloneExperiment(e))})
	return cloneExperiment(e), nil
}

// UpdateExperiment mutates an experiment through the supplied mutator.
func (tx *transaction) UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error) {
	current, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, fmt.Errorf("experiment %q not found", id)
	}
	before := cloneExperiment(current)
	if err := mutator(&current); err != nil {
		return Experiment{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.experiments[id] = cloneExperiment(current)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionUpdate, Before: mustPayload("update experiment before", before), After: mustPayload("update experiment after", cloneExperiment(current))})
	return cloneExperiment(current), nil
}

// DeleteExperiment removes an experiment with no remaining jobs.
func (tx *transaction) DeleteExperiment(id string) error {
	current, ok := tx.state.experiments[id]
	if !ok {
		return fmt.Errorf("experiment %q not found", id)
	}
	for _, job := range tx.state.jobs {
		if job.ExperimentID == id {
			return fmt.Errorf("experiment %q still referenced by job %q", id, job.ID)
		}
	}
	delete(tx.state.experiments, id)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionDelete, Before: mustPayload("delete experiment", cloneExperiment(current))})
	return nil
}

// CreateJob inserts a new job record.
func (tx *transaction) CreateJob(j Job) (Job, error) {
	if j.ID == "" {
		j.ID = tx.store.NewID(JobIDPrefix)
	}
	if _, exists := tx.state.jobs[j.ID]; exists {
		return Job{}, fmt.Errorf("job %q already exists", j.ID)
	}
	if j.Status == "" {
		j.Status = domain.JobStatusPending
	}
	j.CreatedAt = tx.now
	j.UpdatedAt = tx.now
	tx.state.jobs[j.ID] = cloneJob(j)
	tx.recordChange(Change{Entity: domain.EntityJob, Action: domain.ActionCreate, After: mustPayload("create job", cloneJob(j))})
	return cloneJob(j), nil
}

// UpdateJob mutates a job through the supplied mutator.
func (tx *transaction) UpdateJob(id string, mutator func(*Job) error) (Job, error) {
	current, ok := tx.state.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %q not found", id)
	}
	before := cloneJob(current)
	if err := mutator(&current); err != nil {
		return Job{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.jobs[id] = cloneJob(current)
	tx.recordChange(Change{Entity: domain.EntityJob, Action: domain.ActionUpdate, Before: mustPayload("update job before", before), After: mustPayload("update job after", cloneJob(current))})
	return cloneJob(current), nil
}

// DeleteJob removes a job record.
func (tx *transaction) DeleteJob(id string) error {
	current, ok := tx.state.jobs[id]
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	delete(tx.state.jobs, id)
	tx.recordChange(Change{Entity: domain.EntityJob, Action: domain.ActionDelete, Before: mustPayload("delete job", cloneJob(current))})
	return nil
}

// CreateDataset inserts a new dataset reference.
func (tx *transaction) CreateDataset(d DatasetRef) (DatasetRef, error) {
	if d.ID == "" {
		d.ID = tx.store.NewID(DatasetIDPrefix)
	}
	if _, exists := tx.state.datasets[d.ID]; exists {
		return DatasetRef{}, fmt.Errorf("dataset %q already exists", d.ID)
	}
	if d.Type == "" {
		d.Type = domain.DatasetTypeExperimental
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.datasets[d.ID] = cloneDataset(d)
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionCreate, After: mustPayload("create dataset", cloneDataset(d))})
	return cloneDataset(d), nil
}

// UpdateDataset mutates a dataset reference through the supplied mutator.
func (tx *transaction) UpdateDataset(id string, mutator func(*DatasetRef) error) (DatasetRef, error) {
	current, ok := tx.state.datasets[id]
	if !ok {
		return DatasetRef{}, fmt.Errorf("dataset %q not found", id)
	}
	before := cloneDataset(current)
	if err := mutator(&current); err != nil {
		return DatasetRef{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.datasets[id] = cloneDataset(current)
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionUpdate, Before: mustPayload("update dataset before", before), After: mustPayload("update dataset after", cloneDataset(current))})
	return cloneDataset(current), nil
}

// DeleteDataset removes a dataset reference.
func (tx *transaction) DeleteDataset(id string) error {
	current, ok := tx.state.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %q not found", id)
	}
	delete(tx.state.datasets, id)
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionDelete, Before: mustPayload("delete dataset", cloneDataset(current))})
	return nil
}

// GetExperiment returns an experiment by id.
func (s *Store) GetExperiment(id string) (Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// ListExperiments returns all experiments.
func (s *Store) ListExperiments() []Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Experiment, 0, len(s.state.experiments))
	for _, e := range s.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	return out
}

// GetJob returns a job by id.
func (s *Store) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.state.jobs[id]
	if !ok {
		return Job{}, false
	}
	return cloneJob(j), true
}

// ListJobs returns all jobs.
func (s *Store) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.state.jobs))
	for _, j := range s.state.jobs {
		out = append(out, cloneJob(j))
	}
	return out
}

// GetDataset returns a dataset reference by id.
func (s *Store) GetDataset(id string) (DatasetRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.datasets[id]
	if !ok {
		return DatasetRef{}, false
	}
	return cloneDataset(d), true
}

// ListDatasets returns all dataset references.
func (s *Store) ListDatasets() []DatasetRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DatasetRef, 0, len(s.state.datasets))
	for _, d := range s.state.datasets {
		out = append(out, cloneDataset(d))
	}
	return out
}

