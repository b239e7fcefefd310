package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const scannerVersion = "0.1.0"

// RunReportParams collects everything run.json summarizes.
type RunReportParams struct {
	Ingest         IngestResult
	Metadata       MetadataResult
	Frames         FrameExtractionResult
	Backend        string
	Params         map[string]any
	Reconstruction *ReconstructionResult
	FailureReason  string
	Elapsed        time.Duration
}

// BuildRunReport assembles the run.json payload. Map payloads keep the
// serialized keys sorted.
func BuildRunReport(p RunReportParams) map[string]any {
	var sparseModelDir, backendLog any
	if p.Reconstruction != nil {
		if p.Reconstruction.SparseModelDir != "" {
			sparseModelDir = p.Reconstruction.SparseModelDir
		}
		if p.Reconstruction.BackendLog != "" {
			backendLog = p.Reconstruction.BackendLog
		}
	}
	status := "failed"
	if p.Reconstruction != nil && p.FailureReason == "" {
		status = "success"
	}
	var failureReason any
	if p.FailureReason != "" {
		failureReason = p.FailureReason
	}
	params := p.Params
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"inputs": map[string]any{
			"path":   p.Ingest.InputPath,
			"sha256": p.Ingest.InputHash,
		},
		"output_dir": p.Ingest.OutputDir,
		"backend":    p.Backend,
		"params":     params,
		"metadata":   p.Metadata,
		"frames":     p.Frames,
		"reconstruction": map[string]any{
			"sparse_model_dir": sparseModelDir,
			"backend_log":      backendLog,
			"status":           status,
			"failure_reason":   failureReason,
		},
		"environment": map[string]any{
			"go":        runtime.Version(),
			"platform":  runtime.GOOS + "/" + runtime.GOARCH,
			"cpu_count": runtime.NumCPU(),
		},
		"versions": map[string]any{
			"scanner": scannerVersion,
		},
		"elapsed_seconds": p.Elapsed.Seconds(),
	}
}

// BuildMetricsReport assembles reconstruction_metrics.json from the
// sparse model statistics.
func BuildMetricsReport(reconstruction *ReconstructionResult, metadata MetadataResult, frames FrameExtractionResult, failureReason string) map[string]any {
	var reprojErrors []float64
	if reconstruction != nil && reconstruction.SparseModelDir != "" {
		path := filepath.Join(reconstruction.SparseModelDir, "points3D.txt")
		if _, err := os.Stat(path); err == nil {
			reprojErrors, _ = ParseReprojectionErrors(path)
		}
	}

	status := "failed"
	if reconstruction != nil && failureReason == "" {
		status = "success"
	}
	var failure any
	if failureReason != "" {
		failure = failureReason
	}
	var meanErr, minErr, maxErr any
	if len(reprojErrors) > 0 {
		meanErr = stat.Mean(reprojErrors, nil)
		minErr = floats.Min(reprojErrors)
		maxErr = floats.Max(reprojErrors)
	}
	return map[string]any{
		"status":         status,
		"failure_reason": failure,
		"frame_usage": map[string]any{
			"extracted": frames.FrameCount,
			"used":      frames.FrameCount,
		},
		"point_count": len(reprojErrors),
		"reprojection_error": map[string]any{
			"mean": meanErr,
			"min":  minErr,
			"max":  maxErr,
		},
		"scale_confidence": ClassifyScaleConfidence(metadata),
		"accuracy_tiers": map[string]any{
			"tier_s_target_mm":  0.01,
			"tier_r_target_mm":  1.0,
			"tier_a_target_cm":  10.0,
			"phase0_disclaimer": "Phase 0 does not meet target precision tiers.",
		},
	}
}

// ClassifyScaleConfidence grades how trustworthy the intrinsic scale
// hints in the metadata are. Device tags that may carry focal or
// capture information raise the grade to medium.
func ClassifyScaleConfidence(metadata MetadataResult) string {
	if !contains(metadata.ExtractedFields, "streams.width") || !contains(metadata.ExtractedFields, "streams.height") {
		return "low"
	}
	if metadata.Source != "ffprobe" {
		return "low"
	}
	tags := map[string]any{}
	for _, stream := range metadata.Streams {
		mergeTags(tags, stream["tags"])
	}
	mergeTags(tags, metadata.Container["tags"])
	for key := range tags {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "com.apple") || strings.Contains(lower, "focal") {
			return "medium"
		}
	}
	return "low"
}

func mergeTags(into map[string]any, raw any) {
	if tags, ok := raw.(map[string]any); ok {
		for k, v := range tags {
			into[k] = v
		}
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// ParseReprojectionErrors reads the per-point reprojection error column
// of a COLMAP points3D.txt.
func ParseReprojectionErrors(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open points3D: %w", err)
	}
	defer f.Close()

	var errorsPx []float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 8 {
			continue
		}
		value, err := strconv.ParseFloat(parts[7], 64)
		if err != nil {
			continue
		}
		errorsPx = append(errorsPx, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read points3D: %w", err)
	}
	return errorsPx, nil
}

// WriteJSONReport writes payload as two-space-indented JSON with a
// trailing newline. Map keys serialize sorted.
func WriteJSONReport(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
