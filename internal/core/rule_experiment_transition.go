package core

import (
	"context"
	"fmt"

	"labos/pkg/domain"
)

const experimentStatusTransitionRuleName = "experiment_status_transition"

// ExperimentStatusTransitionRule blocks experiment updates whose status
// move is not allowed by the lifecycle graph (draft -> active ->
// completed/failed, with re-activation from either terminal state).
func ExperimentStatusTransitionRule() domain.Rule {
	return experimentStatusTransitionRule{}
}

type experimentStatusTransitionRule struct{}

func (experimentStatusTransitionRule) Name() string { return experimentStatusTransitionRuleName }

func (experimentStatusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityExperiment || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := decodeChangePayload[domain.Experiment](change.Before)
		after, okAfter := decodeChangePayload[domain.Experiment](change.After)
		if !okBefore || !okAfter || before.Status == after.Status {
			continue
		}
		if !after.Status.Known() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     experimentStatusTransitionRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("experiment %s: unknown status %q", after.ID, after.Status),
				Entity:   domain.EntityExperiment,
				EntityID: after.ID,
			})
			continue
		}
		if !before.Status.CanTransition(after.Status) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     experimentStatusTransitionRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("experiment %s: illegal transition %s -> %s", after.ID, before.Status, after.Status),
				Entity:   domain.EntityExperiment,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
