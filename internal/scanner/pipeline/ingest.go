// Package pipeline orchestrates the multiview reconstruction stages:
// ingest, metadata probing, frame extraction, COLMAP reconstruction,
// export, anchoring, scaling, reference-frame centering,
// georegistration, and reporting.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// IngestResult identifies the validated input and the prepared output
// tree for one run.
type IngestResult struct {
	InputPath string `json:"input_path"`
	InputHash string `json:"input_hash"`
	OutputDir string `json:"output_dir"`
}

// runSubdirs is the output tree every run starts from.
var runSubdirs = []string{"frames", "colmap", "out", "stage_reports"}

// Ingest validates the input video, fingerprints it, and creates the
// run output tree.
func Ingest(inputPath, outputDir string) (IngestResult, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return IngestResult{}, fmt.Errorf("input video: %w", err)
	}
	if info.IsDir() {
		return IngestResult{}, fmt.Errorf("input video %s is a directory", inputPath)
	}

	hash, err := hashFile(inputPath)
	if err != nil {
		return IngestResult{}, err
	}

	for _, sub := range runSubdirs {
		if err := os.MkdirAll(filepath.Join(outputDir, sub), 0o755); err != nil {
			return IngestResult{}, fmt.Errorf("create output tree: %w", err)
		}
	}
	return IngestResult{InputPath: inputPath, InputHash: hash, OutputDir: outputDir}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
