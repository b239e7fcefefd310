package core

import (
	"context"
	"fmt"

	"labos/pkg/domain"
)

const jobExperimentExistsRuleName = "job_experiment_exists"

// JobExperimentExistsRule blocks job writes that reference an experiment
// absent from the post-change snapshot. Jobs created in the same
// transaction as their experiment pass.
func JobExperimentExistsRule() domain.Rule {
	return jobExperimentExistsRule{}
}

type jobExperimentExistsRule struct{}

func (jobExperimentExistsRule) Name() string { return jobExperimentExistsRuleName }

func (jobExperimentExistsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityJob || change.Action == domain.ActionDelete {
			continue
		}
		job, ok := decodeChangePayload[domain.Job](change.After)
		if !ok {
			continue
		}
		if job.ExperimentID == "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     jobExperimentExistsRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("job %s has no experiment", job.ID),
				Entity:   domain.EntityJob,
				EntityID: job.ID,
			})
			continue
		}
		if _, found := view.FindExperiment(job.ExperimentID); !found {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     jobExperimentExistsRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("job %s references unknown experiment %s", job.ID, job.ExperimentID),
				Entity:   domain.EntityJob,
				EntityID: job.ID,
			})
		}
	}
	return res, nil
}
