package core

import (
	"context"
	"fmt"

	"labos/pkg/domain"
)

const datasetURIPresentRuleName = "dataset_uri_present"

// DatasetURIPresentRule warns when a dataset reference is written without
// a URI. Placeholder outputs are legal, so the severity stays advisory.
func DatasetURIPresentRule() domain.Rule {
	return datasetURIPresentRule{}
}

type datasetURIPresentRule struct{}

func (datasetURIPresentRule) Name() string { return datasetURIPresentRuleName }

func (datasetURIPresentRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityDataset || change.Action == domain.ActionDelete {
			continue
		}
		ds, ok := decodeChangePayload[domain.DatasetRef](change.After)
		if !ok || ds.URI != "" {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     datasetURIPresentRuleName,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("dataset %s has no URI", ds.ID),
			Entity:   domain.EntityDataset,
			EntityID: ds.ID,
		})
	}
	return res, nil
}
