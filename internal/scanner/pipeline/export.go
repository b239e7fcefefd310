package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"labos/internal/scanner/execx"
	"labos/pkg/domain"
)

// ErrUnsupportedExport marks export formats that are not implemented
// yet.
var ErrUnsupportedExport = errors.New("export format not implemented")

// ExportSparsePLY converts the sparse model to out/sparse.ply via
// colmap model_converter and returns the written path.
func ExportSparsePLY(ctx context.Context, exec execx.Executor, sparseModelDir, outDir string, logger domain.Logger) (string, error) {
	outputPath := filepath.Join(outDir, "sparse.ply")
	args := []string{
		"model_converter",
		"--input_path", sparseModelDir,
		"--output_path", outputPath,
		"--output_type", "PLY",
	}
	logger.Info("exporting sparse point cloud", "path", outputPath)
	if _, err := exec.Execute(ctx, "colmap", args); err != nil {
		return "", fmt.Errorf("colmap model_converter: %w", err)
	}
	return outputPath, nil
}

// ExportOBJ is a placeholder for mesh export.
func ExportOBJ(string, string) error {
	return fmt.Errorf("obj: %w", ErrUnsupportedExport)
}

// ExportGLTF is a placeholder for glTF export.
func ExportGLTF(string, string) error {
	return fmt.Errorf("gltf: %w", ErrUnsupportedExport)
}
