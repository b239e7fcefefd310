package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"labos/internal/scanner/execx"
	"labos/pkg/domain"
)

// ReconstructionResult locates the sparse model a backend produced and
// the log of its tool invocations.
type ReconstructionResult struct {
	SparseModelDir string `json:"sparse_model_dir"`
	BackendLog     string `json:"backend_log"`
}

// BackendUnavailableError marks a reconstruction backend whose binary
// is not installed, as opposed to one that ran and failed.
type BackendUnavailableError struct {
	Tool     string
	Guidance string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %s", e.Tool, e.Guidance)
}

// IsBackendUnavailable reports whether err marks a missing backend.
func IsBackendUnavailable(err error) bool {
	var unavailable *BackendUnavailableError
	return errors.As(err, &unavailable)
}

// ColmapBackend runs the COLMAP sparse reconstruction sequence.
type ColmapBackend struct {
	Exec execx.Executor
}

// Name identifies the backend in reports.
func (b *ColmapBackend) Name() string { return "colmap" }

// Run executes feature_extractor, exhaustive_matcher, and mapper, then
// locates the first sparse model directory. All tool output is appended
// to colmap.log in the workspace.
func (b *ColmapBackend) Run(ctx context.Context, imagesDir, workspaceDir string, logger domain.Logger) (ReconstructionResult, error) {
	if err := b.Exec.Probe("colmap"); err != nil {
		var unavailable *execx.UnavailableError
		if errors.As(err, &unavailable) {
			return ReconstructionResult{}, &BackendUnavailableError{Tool: unavailable.Tool, Guidance: unavailable.Guidance}
		}
		return ReconstructionResult{}, err
	}

	sparseDir := filepath.Join(workspaceDir, "sparse")
	if err := os.MkdirAll(sparseDir, 0o755); err != nil {
		return ReconstructionResult{}, fmt.Errorf("create colmap workspace: %w", err)
	}
	databasePath := filepath.Join(workspaceDir, "database.db")
	logPath := filepath.Join(workspaceDir, "colmap.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ReconstructionResult{}, fmt.Errorf("open colmap log: %w", err)
	}
	defer logFile.Close()

	commands := [][]string{
		{"feature_extractor", "--database_path", databasePath, "--image_path", imagesDir},
		{"exhaustive_matcher", "--database_path", databasePath},
		{"mapper", "--database_path", databasePath, "--image_path", imagesDir, "--output_path", sparseDir},
	}
	for _, args := range commands {
		logger.Info("running colmap", "command", "colmap "+strings.Join(args, " "))
		result, err := b.Exec.Execute(ctx, "colmap", args, execx.WithOutputWriter(logFile))
		if err != nil {
			exit := -1
			if result != nil {
				exit = result.ExitCode
			}
			return ReconstructionResult{}, fmt.Errorf("colmap %s failed (exit %d): %w", args[0], exit, err)
		}
	}

	modelDir, err := findSparseModel(sparseDir)
	if err != nil {
		return ReconstructionResult{}, err
	}
	return ReconstructionResult{SparseModelDir: modelDir, BackendLog: logPath}, nil
}

// findSparseModel returns the first model directory COLMAP wrote,
// normally sparse/0.
func findSparseModel(sparseDir string) (string, error) {
	entries, err := os.ReadDir(sparseDir)
	if err != nil {
		return "", fmt.Errorf("read sparse dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.New("colmap did not produce a sparse model directory")
	}
	sort.Strings(names)
	return filepath.Join(sparseDir, names[0]), nil
}
