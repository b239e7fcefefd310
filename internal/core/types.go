package core

import (
	"labos/internal/audit"
	"labos/internal/infra/persistence/memory"
	"labos/pkg/domain"
)

// Aliases keep call sites terse while the canonical definitions stay in
// pkg/domain and internal/audit.
type (
	// Experiment re-exports the domain experiment record.
	Experiment = domain.Experiment
	// Job re-exports the domain job record.
	Job = domain.Job
	// DatasetRef re-exports the domain dataset reference record.
	DatasetRef = domain.DatasetRef
	// Result re-exports the rule evaluation outcome.
	Result = domain.Result
	// Violation re-exports a single rule violation.
	Violation = domain.Violation
	// RulesEngine re-exports the rule registry and evaluator.
	RulesEngine = domain.RulesEngine
	// Transaction re-exports the mutable transaction handle.
	Transaction = domain.Transaction
	// TransactionView re-exports the read-only rule view.
	TransactionView = domain.TransactionView
	// PersistentStore re-exports the storage contract the service runs on.
	PersistentStore = domain.PersistentStore
	// AuditEvent re-exports one checksum-chained audit record.
	AuditEvent = domain.AuditEvent
	// VerificationResult re-exports the per-day chain verification outcome.
	VerificationResult = audit.VerificationResult
	// ChainBreak re-exports the first detected chain defect.
	ChainBreak = audit.ChainBreak
)

// NewRulesEngine returns an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// NewMemoryStore returns the in-memory store used by tests and ephemeral
// runs. A nil engine disables rule evaluation.
func NewMemoryStore(engine *RulesEngine) *memory.Store { return memory.NewStore(engine) }
