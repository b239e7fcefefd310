// Package integration drives the whole stack the way the CLI does:
// filesystem registries, audit chain, artifact store, and a module
// workflow, asserting the lineage ties together.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"labos/internal/audit"
	"labos/internal/core"
	artifactfs "labos/internal/infra/artifact/fs"
	"labos/internal/infra/persistence/fsregistry"
	"labos/pkg/domain"
	"labos/plugins/eims"
)

func newStack(t *testing.T) (*core.Service, *audit.Logger) {
	t.Helper()
	root := t.TempDir()
	recorder, err := audit.NewLogger(filepath.Join(root, "audit"))
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	store, err := fsregistry.Open(fsregistry.Options{
		DataDir: filepath.Join(root, "data"),
		Engine:  core.NewDefaultRulesEngine(),
		Logger:  domain.NopLogger{},
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	artifacts, err := artifactfs.New(filepath.Join(root, "artifacts"))
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	service := core.NewService(store,
		core.WithAuditRecorder(recorder),
		core.WithArtifacts(artifacts),
	)
	if _, err := service.InstallPlugin(eims.New()); err != nil {
		t.Fatalf("install plugin: %v", err)
	}
	return service, recorder
}

func TestWorkflowLineageAcrossFilesystemStack(t *testing.T) {
	service, _ := newStack(t)
	ctx := context.Background()

	result, err := service.RunModuleJob(ctx, core.RunModuleRequest{
		ModuleKey:       eims.ModuleKey,
		Actor:           "integration",
		ExperimentTitle: "smoke run",
		ExperimentOwner: "itest",
		Params:          map[string]any{"compound": "toluene"},
	})
	if err != nil {
		t.Fatalf("run module job: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("workflow failed: %s", result.Err)
	}
	if result.Job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", result.Job.Status)
	}
	if result.Dataset == nil {
		t.Fatal("expected an output dataset reference")
	}
	if len(result.AuditEvents) == 0 {
		t.Fatal("expected chain events for the workflow")
	}

	// The records must be readable back through the same store.
	exp, err := service.GetExperiment(ctx, result.Experiment.ID)
	if err != nil {
		t.Fatalf("get experiment: %v", err)
	}
	if exp.Title != "smoke run" {
		t.Fatalf("experiment title = %q", exp.Title)
	}

	prov, err := service.Provenance(ctx, result.Dataset.ID)
	if err != nil {
		t.Fatalf("provenance: %v", err)
	}
	if len(prov.Events) == 0 {
		t.Fatal("provenance returned no events")
	}
	found := false
	for _, id := range prov.JobIDs {
		if id == result.Job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("provenance job ids %v missing %s", prov.JobIDs, result.Job.ID)
	}
}

func TestAuditChainVerifiesAfterWorkflow(t *testing.T) {
	service, _ := newStack(t)
	ctx := context.Background()

	if _, err := service.RunModuleJob(ctx, core.RunModuleRequest{
		ModuleKey:       eims.ModuleKey,
		ExperimentTitle: "chain check",
		ExperimentOwner: "itest",
	}); err != nil {
		t.Fatalf("run module job: %v", err)
	}

	results, err := service.VerifyAudit(ctx, "")
	if err != nil {
		t.Fatalf("verify audit: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one verified day")
	}
	for _, res := range results {
		if !res.Valid {
			t.Fatalf("day %s reported a chain break: %+v", res.Day, res.Break)
		}
		if res.Events == 0 {
			t.Fatalf("day %s verified zero events", res.Day)
		}
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	root := t.TempDir()
	open := func() *core.Service {
		store, err := fsregistry.Open(fsregistry.Options{
			DataDir: root,
			Engine:  core.NewDefaultRulesEngine(),
			Logger:  domain.NopLogger{},
		})
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		return core.NewService(store)
	}

	ctx := context.Background()
	first := open()
	created, _, err := first.CreateExperiment(ctx, domain.Experiment{Title: "persisted", Owner: "itest"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	second := open()
	got, err := second.GetExperiment(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Title != "persisted" {
		t.Fatalf("title after reopen = %q", got.Title)
	}
}
