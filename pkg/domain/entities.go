// Package domain contains the storage-agnostic entity definitions, change
// tracking primitives, and rule contracts shared by every LabOS component.
// Persistence drivers, the service layer, and module plugins all speak in
// terms of these types.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the registry an entity or change belongs to.
type EntityType string

const (
	// EntityExperiment identifies experiment records.
	EntityExperiment EntityType = "experiment"
	// EntityJob identifies job records.
	EntityJob EntityType = "job"
	// EntityDataset identifies dataset reference records.
	EntityDataset EntityType = "dataset"
	// EntityModule identifies registered module descriptors.
	EntityModule EntityType = "module"
	// EntityModuleOperation identifies a named operation on a module.
	EntityModuleOperation EntityType = "module operation"
)

// ExperimentStatus captures the coarse lifecycle of an experiment.
type ExperimentStatus string

const (
	// ExperimentStatusDraft marks a freshly created experiment.
	ExperimentStatusDraft ExperimentStatus = "draft"
	// ExperimentStatusActive marks an experiment with work in flight.
	ExperimentStatusActive ExperimentStatus = "active"
	// ExperimentStatusCompleted marks an experiment whose jobs all finished.
	ExperimentStatusCompleted ExperimentStatus = "completed"
	// ExperimentStatusFailed marks an experiment abandoned after a job failure.
	ExperimentStatusFailed ExperimentStatus = "failed"
)

// JobStatus tracks the execution state of a module job.
type JobStatus string

const (
	// JobStatusPending marks a job that has been created but not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning marks a job currently executing a module operation.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded marks a job that finished and produced outputs.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed marks a job whose module operation returned an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled marks a job withdrawn before completion.
	JobStatusCancelled JobStatus = "cancelled"
)

// DatasetType classifies the role a referenced dataset plays.
type DatasetType string

const (
	// DatasetTypeReference marks curated reference data.
	DatasetTypeReference DatasetType = "reference"
	// DatasetTypeExperimental marks data produced by an experiment.
	DatasetTypeExperimental DatasetType = "experimental"
	// DatasetTypeTraining marks model training corpora.
	DatasetTypeTraining DatasetType = "training"
	// DatasetTypeInference marks inference inputs or outputs.
	DatasetTypeInference DatasetType = "inference"
)

// Base contains identity and audit timestamps shared by all persisted entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch stamps UpdatedAt (and CreatedAt when unset) with the supplied time.
func (b *Base) Touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Experiment is the unit of scientific intent: a titled, owned record that
// jobs and datasets hang off.
type Experiment struct {
	Base
	Title    string            `json:"title"`
	Purpose  string            `json:"purpose,omitempty"`
	Owner    string            `json:"owner"`
	Status   ExperimentStatus  `json:"status"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	JobIDs   []string          `json:"job_ids,omitempty"`
}

type experimentAlias Experiment

// MarshalJSON normalizes timestamps to UTC so on-disk documents are stable.
func (e Experiment) MarshalJSON() ([]byte, error) {
	out := experimentAlias(e)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return json.Marshal(out)
}

// AttachJob appends a job id to the experiment, ignoring duplicates.
func (e *Experiment) AttachJob(jobID string) {
	for _, existing := range e.JobIDs {
		if existing == jobID {
			return
		}
	}
	e.JobIDs = append(e.JobIDs, jobID)
}

// experimentTransitions lists the statuses each status may legally move to.
var experimentTransitions = map[ExperimentStatus][]ExperimentStatus{
	ExperimentStatusDraft:     {ExperimentStatusActive, ExperimentStatusFailed},
	ExperimentStatusActive:    {ExperimentStatusCompleted, ExperimentStatusFailed},
	ExperimentStatusCompleted: {ExperimentStatusActive},
	ExperimentStatusFailed:    {ExperimentStatusActive},
}

// CanTransition reports whether moving from the current status to next is legal.
func (s ExperimentStatus) CanTransition(next ExperimentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range experimentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Known reports whether the status is one of the defined experiment statuses.
func (s ExperimentStatus) Known() bool {
	switch s {
	case ExperimentStatusDraft, ExperimentStatusActive, ExperimentStatusCompleted, ExperimentStatusFailed:
		return true
	}
	return false
}

// Job records one module operation executed against an experiment. Jobs are
// append-only history: finished jobs are never reopened, a retry is a new job.
type Job struct {
	Base
	ExperimentID string         `json:"experiment_id"`
	ModuleKey    string         `json:"module_key"`
	Operation    string         `json:"operation"`
	Params       map[string]any `json:"params,omitempty"`
	Status       JobStatus      `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DatasetsIn   []string       `json:"datasets_in,omitempty"`
	DatasetsOut  []string       `json:"datasets_out,omitempty"`
	ResultPath   string         `json:"result_path,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type jobAlias Job

// MarshalJSON normalizes timestamps to UTC so on-disk documents are stable.
func (j Job) MarshalJSON() ([]byte, error) {
	out := jobAlias(j)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	if out.StartedAt != nil {
		started := out.StartedAt.UTC()
		out.StartedAt = &started
	}
	if out.CompletedAt != nil {
		completed := out.CompletedAt.UTC()
		out.CompletedAt = &completed
	}
	return json.Marshal(out)
}

// Kind returns the module_key:operation slug recorded in audit payloads.
func (j Job) Kind() string {
	return j.ModuleKey + ":" + j.Operation
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DatasetRef points at data living elsewhere (file, URI, object key) together
// with enough metadata to trace where it came from.
type DatasetRef struct {
	Base
	Label    string            `json:"label"`
	Owner    string            `json:"owner"`
	Type     DatasetType       `json:"type"`
	URI      string            `json:"uri,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type datasetRefAlias DatasetRef

// MarshalJSON normalizes timestamps to UTC so on-disk documents are stable.
func (d DatasetRef) MarshalJSON() ([]byte, error) {
	out := datasetRefAlias(d)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return json.Marshal(out)
}

// AuditEvent is one link in the append-only audit chain. Checksum covers the
// canonical encoding of the event joined with the previous link's checksum.
type AuditEvent struct {
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	Actor        string         `json:"actor"`
	Payload      map[string]any `json:"payload,omitempty"`
	PayloadHash  string         `json:"payload_hash,omitempty"`
	PrevChecksum string         `json:"prev_checksum"`
	Checksum     string         `json:"checksum"`
}

// Action enumerates the mutation kinds tracked per transaction.
type Action string

const (
	// ActionCreate marks a newly inserted record.
	ActionCreate Action = "create"
	// ActionUpdate marks a mutation of an existing record.
	ActionUpdate Action = "update"
	// ActionDelete marks a removal.
	ActionDelete Action = "delete"
)

// Change captures a single entity mutation inside a transaction, with cloned
// before/after snapshots for rule evaluation. Creates carry an undefined
// Before; deletes carry an undefined After.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Severity grades rule violations.
type Severity string

const (
	// SeverityLog records advisory findings without surfacing them.
	SeverityLog Severity = "log"
	// SeverityWarn surfaces findings but lets the transaction commit.
	SeverityWarn Severity = "warn"
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
)

// Violation describes a single rule finding.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates the violations produced by a rules evaluation.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge combines two results.
func (r Result) Merge(other Result) Result {
	if len(other.Violations) == 0 {
		return r
	}
	merged := Result{Violations: make([]Violation, 0, len(r.Violations)+len(other.Violations))}
	merged.Violations = append(merged.Violations, r.Violations...)
	merged.Violations = append(merged.Violations, other.Violations...)
	return merged
}

// HasBlocking reports whether any violation should abort the transaction.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when a transaction is rejected by rules.
type RuleViolationError struct {
	Result Result
}

// Error summarises the blocking violations.
func (e RuleViolationError) Error() string {
	parts := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	if len(parts) == 0 {
		return "rule violations"
	}
	return "rule violations: " + strings.Join(parts, "; ")
}
