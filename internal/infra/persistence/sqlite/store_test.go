package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"labos/pkg/domain"
)

func TestRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labos.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var exp domain.Experiment
	var job domain.Job
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		exp, err = tx.CreateExperiment(domain.Experiment{Title: "t", Owner: "o"})
		if err != nil {
			return err
		}
		job, err = tx.CreateJob(domain.Job{ExperimentID: exp.ID, ModuleKey: "m", Operation: "op"})
		if err != nil {
			return err
		}
		_, err = tx.CreateDataset(domain.DatasetRef{Label: "d", Owner: "o", URI: "file:///tmp/x"})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	gotExp, ok := reopened.GetExperiment(exp.ID)
	if !ok {
		t.Fatalf("experiment missing after reopen")
	}
	if len(gotExp.JobIDs) != 1 || gotExp.JobIDs[0] != job.ID {
		t.Fatalf("expected job ids recomputed, got %v", gotExp.JobIDs)
	}
	if len(reopened.ListDatasets()) != 1 {
		t.Fatalf("dataset missing after reopen")
	}
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestBlockedTransactionIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labos.db")
	ctx := context.Background()

	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store, err := NewStore(path, engine)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateExperiment(domain.Experiment{Title: "t", Owner: "o"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if got := len(reopened.ListExperiments()); got != 0 {
		t.Fatalf("blocked transaction leaked %d records to disk", got)
	}
}

func TestEmptyPathDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open with default path: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != "labos.db" {
		t.Fatalf("unexpected default path %s", store.Path())
	}
}
