package moduleapi

import "labos/pkg/domain"

// Rule evaluation and result aliases, re-exported so plugin code never
// imports internal packages.
type (
	// Rule is an alias of domain.Rule representing a validation hook.
	Rule = domain.Rule
	// RuleView is an alias of domain.RuleView providing a read-only view to rules.
	RuleView = domain.RuleView
	// Change is an alias of domain.Change describing a mutation considered by rules.
	Change = domain.Change
	// RuleResult is an alias of domain.Result aggregating rule violations.
	RuleResult = domain.Result
	// Violation is an alias of domain.Violation detailing a single rule outcome.
	Violation = domain.Violation
)

// Severity level aliases.
const (
	SeverityBlock = domain.SeverityBlock // Block the transaction
	SeverityWarn  = domain.SeverityWarn  // Warn but continue
	SeverityLog   = domain.SeverityLog   // Log only
)

// Entity type aliases.
const (
	EntityExperiment = domain.EntityExperiment
	EntityJob        = domain.EntityJob
	EntityDataset    = domain.EntityDataset
)
