package core

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"labos/internal/artifact"
	"labos/pkg/domain"
	"labos/pkg/moduleapi"
)

// WorkflowActor attributes chain events recorded by the workflow itself.
const WorkflowActor = "labos.workflow"

// RunModuleRequest describes one lineage-tracked module execution.
type RunModuleRequest struct {
	// ModuleKey selects the module. Operation defaults to compute.
	ModuleKey string
	Operation string
	Params    map[string]any
	// Actor is stamped on the chain events. Defaults to WorkflowActor.
	Actor string
	// ExperimentID reuses an existing experiment. When empty a new one is
	// created from ExperimentTitle and ExperimentOwner.
	ExperimentID    string
	ExperimentTitle string
	ExperimentOwner string
	// DatasetsIn supplements the dataset ids inferred from Params
	// ("dataset_id" and "dataset_ids" keys).
	DatasetsIn []string
}

// WorkflowResult carries the lineage records produced by one module run.
type WorkflowResult struct {
	Experiment   Experiment          `json:"experiment"`
	Job          Job                 `json:"job"`
	Dataset      *DatasetRef         `json:"dataset,omitempty"`
	AuditEvents  []domain.AuditEvent `json:"audit_events,omitempty"`
	ModuleOutput map[string]any      `json:"module_output,omitempty"`
	Err          string              `json:"error,omitempty"`
}

// Succeeded reports whether the module run completed without error.
func (r WorkflowResult) Succeeded() bool { return r.Err == "" }

// RunModuleJob executes a module operation with full lineage: an
// experiment (created or reused), a job advancing pending -> running ->
// succeeded/failed, an output dataset reference, a result artifact, and
// chain events for every step. A module failure is reported inside the
// WorkflowResult; the error return is reserved for storage and audit
// infrastructure faults.
func (s *Service) RunModuleJob(ctx context.Context, req RunModuleRequest) (WorkflowResult, error) {
	var out WorkflowResult
	err := s.run(ctx, "run_module_job", func(ctx context.Context) error {
		if req.ModuleKey == "" {
			return domain.ValidationError{Field: "module_key", Reason: "required"}
		}
		if req.Operation == "" {
			req.Operation = moduleapi.DefaultOperation
		}
		if req.Actor == "" {
			req.Actor = WorkflowActor
		}
		descriptor, ok := s.modules.Resolve(req.ModuleKey)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityModule, ID: req.ModuleKey}
		}
		if _, ok := descriptor.Operations[req.Operation]; !ok {
			return domain.NotFoundError{Entity: domain.EntityModuleOperation, ID: req.ModuleKey + ":" + req.Operation}
		}

		var exp Experiment
		var job Job
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var txErr error
			if req.ExperimentID != "" {
				exp, ok = tx.FindExperiment(req.ExperimentID)
				if !ok {
					return domain.NotFoundError{Entity: domain.EntityExperiment, ID: req.ExperimentID}
				}
			} else {
				title := req.ExperimentTitle
				if title == "" {
					title = "Module run: " + req.ModuleKey
				}
				owner := req.ExperimentOwner
				if owner == "" {
					owner = DefaultOwner
				}
				exp, txErr = tx.CreateExperiment(Experiment{Title: title, Owner: owner})
				if txErr != nil {
					return txErr
				}
			}
			job, txErr = tx.CreateJob(Job{
				ExperimentID: exp.ID,
				ModuleKey:    req.ModuleKey,
				Operation:    req.Operation,
				Params:       req.Params,
				DatasetsIn:   inferDatasetInputs(req.Params, req.DatasetsIn),
			})
			if txErr != nil {
				return txErr
			}
			exp, txErr = tx.UpdateExperiment(exp.ID, func(e *Experiment) error {
				e.AttachJob(job.ID)
				return nil
			})
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("run_module_job", res)
		s.metrics.IncJobState(job.Status)
		out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventJobCreated, req.Actor, map[string]any{
			"job_id":        job.ID,
			"experiment_id": exp.ID,
			"module_key":    job.ModuleKey,
			"operation":     job.Operation,
			"status":        string(job.Status),
		}))

		return s.executeJobRecord(ctx, &out, exp, job, req.Actor)
	})
	return out, err
}

// ExecuteJob drives an existing pending job through the module workflow.
// The worker pool behind the jobs API lands here.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) (WorkflowResult, error) {
	var out WorkflowResult
	err := s.run(ctx, "execute_job", func(ctx context.Context) error {
		job, ok := s.store.GetJob(jobID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityJob, ID: jobID}
		}
		if job.Status != domain.JobStatusPending {
			return domain.ValidationError{Field: "status", Reason: "job " + jobID + " is " + string(job.Status) + ", want pending"}
		}
		exp, ok := s.store.GetExperiment(job.ExperimentID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityExperiment, ID: job.ExperimentID}
		}
		return s.executeJobRecord(ctx, &out, exp, job, WorkflowActor)
	})
	return out, err
}

// executeJobRecord runs the module and finalizes the job, experiment,
// dataset, and artifact records around it.
func (s *Service) executeJobRecord(ctx context.Context, out *WorkflowResult, exp Experiment, job Job, actor string) error {
	started := s.now()
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		exp, txErr = tx.UpdateExperiment(exp.ID, func(e *Experiment) error {
			e.Status = domain.ExperimentStatusActive
			e.AttachJob(job.ID)
			return nil
		})
		if txErr != nil {
			return txErr
		}
		job, txErr = tx.UpdateJob(job.ID, func(j *Job) error {
			j.Status = domain.JobStatusRunning
			j.StartedAt = &started
			return nil
		})
		return txErr
	})
	if err != nil {
		return err
	}
	s.logWarnings("execute_job", res)
	s.metrics.IncJobState(job.Status)
	out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventJobRunning, actor, map[string]any{
		"job_id":        job.ID,
		"experiment_id": exp.ID,
		"status":        string(job.Status),
	}))
	for _, datasetID := range job.DatasetsIn {
		out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventDatasetLinked, actor, map[string]any{
			"job_id":     job.ID,
			"dataset_id": datasetID,
			"direction":  "in",
		}))
	}

	moduleResult, runErr := s.modules.Run(ctx, job.ModuleKey, job.Operation, job.Params)
	completed := s.now()

	if runErr != nil {
		failRes, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var txErr error
			job, txErr = tx.UpdateJob(job.ID, func(j *Job) error {
				j.Status = domain.JobStatusFailed
				j.CompletedAt = &completed
				j.Error = runErr.Error()
				return nil
			})
			if txErr != nil {
				return txErr
			}
			exp, txErr = tx.UpdateExperiment(exp.ID, func(e *Experiment) error {
				e.Status = domain.ExperimentStatusFailed
				return nil
			})
			return txErr
		})
		if err != nil {
			return err
		}
		s.logWarnings("execute_job", failRes)
		s.metrics.IncJobState(job.Status)
		out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventJobFailed, actor, map[string]any{
			"job_id":        job.ID,
			"experiment_id": exp.ID,
			"status":        string(job.Status),
			"error":         runErr.Error(),
		}))
		out.Experiment = exp
		out.Job = job
		out.Err = runErr.Error()
		s.logger.Error("module run failed", "job_id", job.ID, "module", job.ModuleKey, "error", runErr.Error())
		return nil
	}

	resultPath := s.writeResultArtifact(ctx, job, moduleResult)
	dataset := datasetFromModuleResult(job.ModuleKey, moduleResult.Dataset, actor)

	var created DatasetRef
	sucRes, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		created, txErr = tx.CreateDataset(dataset)
		if txErr != nil {
			return txErr
		}
		job, txErr = tx.UpdateJob(job.ID, func(j *Job) error {
			j.Status = domain.JobStatusSucceeded
			j.CompletedAt = &completed
			j.DatasetsOut = append(j.DatasetsOut, created.ID)
			j.ResultPath = resultPath
			return nil
		})
		if txErr != nil {
			return txErr
		}
		exp, txErr = tx.UpdateExperiment(exp.ID, func(e *Experiment) error {
			e.Status = domain.ExperimentStatusCompleted
			return nil
		})
		return txErr
	})
	if err != nil {
		return err
	}
	s.logWarnings("execute_job", sucRes)
	s.metrics.IncJobState(job.Status)

	registeredPayload := map[string]any{
		"dataset_id": created.ID,
		"label":      created.Label,
		"type":       string(created.Type),
	}
	if created.URI != "" {
		registeredPayload["uri"] = created.URI
	}
	out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventDatasetRegistered, actor, registeredPayload))

	out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventJobSucceeded, actor, map[string]any{
		"job_id":        job.ID,
		"experiment_id": exp.ID,
		"status":        string(job.Status),
	}))

	executedPayload := map[string]any{}
	for k, v := range moduleResult.Audit {
		executedPayload[k] = v
	}
	executedPayload["job_id"] = job.ID
	executedPayload["module_key"] = job.ModuleKey
	executedPayload["operation"] = job.Operation
	executedPayload["status"] = moduleResult.Status
	out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventModuleExecuted, actor, executedPayload))

	out.AuditEvents = append(out.AuditEvents, s.recordAudit(ctx, EventDatasetLinked, actor, map[string]any{
		"job_id":     job.ID,
		"dataset_id": created.ID,
		"direction":  "out",
	}))

	out.Experiment = exp
	out.Job = job
	out.Dataset = &created
	out.ModuleOutput = resultToMap(moduleResult)
	s.logger.Info("module run complete", "job_id", job.ID, "module", job.ModuleKey, "dataset_id", created.ID)
	return nil
}

// writeResultArtifact persists the module result envelope under the job's
// artifact key. Failures are logged and leave ResultPath empty.
func (s *Service) writeResultArtifact(ctx context.Context, job Job, moduleResult moduleapi.Result) string {
	if s.artifacts == nil {
		return ""
	}
	body, err := json.MarshalIndent(moduleResult, "", "  ")
	if err != nil {
		s.logger.Warn("result artifact encode failed", "job_id", job.ID, "error", err.Error())
		return ""
	}
	key := path.Join("jobs", job.ID, "result.json")
	if _, err := s.artifacts.Put(ctx, key, bytes.NewReader(body), artifact.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"job_id":     job.ID,
			"module_key": job.ModuleKey,
			"operation":  job.Operation,
		},
	}); err != nil {
		s.logger.Warn("result artifact write failed", "job_id", job.ID, "error", err.Error())
		return ""
	}
	return key
}

// inferDatasetInputs merges explicit input ids with the conventional
// dataset_id / dataset_ids parameter keys, preserving first-seen order.
func inferDatasetInputs(params map[string]any, explicit []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range explicit {
		add(id)
	}
	if id, ok := params["dataset_id"].(string); ok {
		add(id)
	}
	switch ids := params["dataset_ids"].(type) {
	case []string:
		for _, id := range ids {
			add(id)
		}
	case []any:
		for _, v := range ids {
			if id, ok := v.(string); ok {
				add(id)
			}
		}
	}
	return out
}

// datasetFromModuleResult lifts a module's dataset payload into a
// DatasetRef, or builds the placeholder reference when the module
// returned none.
func datasetFromModuleResult(moduleKey string, payload *moduleapi.DatasetPayload, owner string) DatasetRef {
	ds := DatasetRef{
		Label:    "Module output",
		Owner:    owner,
		Metadata: map[string]string{"module_key": moduleKey},
	}
	if payload == nil {
		ds.Metadata["placeholder"] = "true"
		return ds
	}
	if payload.Label != "" {
		ds.Label = payload.Label
	}
	if payload.Type != "" {
		ds.Type = domain.DatasetType(payload.Type)
	}
	ds.URI = payload.URI
	ds.Tags = append([]string(nil), payload.Tags...)
	for k, v := range payload.Metadata {
		if _, reserved := ds.Metadata[k]; !reserved {
			ds.Metadata[k] = v
		}
	}
	return ds
}

func resultToMap(res moduleapi.Result) map[string]any {
	raw, err := json.Marshal(res)
	if err != nil {
		return map[string]any{"status": res.Status}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"status": res.Status}
	}
	return out
}
