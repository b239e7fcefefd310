package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"labos/internal/scanner/anchor"
	"labos/internal/scanner/execx"
	"labos/internal/scanner/geo"
	"labos/internal/scanner/ply"
	"labos/internal/scanner/scale"
	"labos/pkg/domain"
)

// Options configures one pipeline run.
type Options struct {
	InputPath string
	OutputDir string
	Backend   string
	FPS       float64
	MaxFrames int

	ScalePolicy scale.Policy

	// Anchor stage inputs; empty paths disable the stage.
	BoardSpecPath  string
	DetectionsPath string
	GateConfig     anchor.GateConfig

	Georeg geo.Config

	MetricsHTML bool

	Exec   execx.Executor
	Logger domain.Logger
}

// RunSummary is the in-memory record of a pipeline run. The same facts
// are persisted to run.json and reconstruction_metrics.json.
type RunSummary struct {
	Ingest         IngestResult
	Metadata       MetadataResult
	Frames         FrameExtractionResult
	Reconstruction *ReconstructionResult
	SparsePLY      string
	Anchor         *anchor.Result
	Scale          *scale.Outcome
	ReferenceFrame *ReferenceFrame
	Georeg         *geo.Result
	FailureReason  string
	Elapsed        time.Duration
}

// StageError names the stage that failed a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Run executes the full pipeline. Stage failures after ingest still
// write run.json and reconstruction_metrics.json before returning, so a
// failed run leaves an inspectable record.
func Run(ctx context.Context, opts Options) (*RunSummary, error) {
	if opts.Exec == nil {
		opts.Exec = execx.New()
	}
	if opts.Logger == nil {
		opts.Logger = domain.NopLogger{}
	}
	if opts.Backend == "" {
		opts.Backend = "colmap"
	}
	if opts.GateConfig == (anchor.GateConfig{}) {
		opts.GateConfig = anchor.DefaultGateConfig()
	}
	logger := opts.Logger

	started := time.Now()
	summary := &RunSummary{}

	ingest, err := Ingest(opts.InputPath, opts.OutputDir)
	if err != nil {
		return summary, &StageError{Stage: "ingest", Err: err}
	}
	summary.Ingest = ingest
	outDir := filepath.Join(opts.OutputDir, "out")

	fail := func(stage string, err error) (*RunSummary, error) {
		summary.FailureReason = err.Error()
		summary.Elapsed = time.Since(started)
		if reportErr := writeReports(opts, summary); reportErr != nil {
			logger.Error("writing failure reports", "error", reportErr)
		}
		return summary, &StageError{Stage: stage, Err: err}
	}

	summary.Metadata = ExtractMetadata(ctx, opts.Exec, opts.InputPath, logger)

	frames, err := ExtractFrames(ctx, opts.Exec, opts.InputPath, filepath.Join(opts.OutputDir, "frames"), opts.FPS, opts.MaxFrames, logger)
	summary.Frames = frames
	if err != nil {
		return fail("frames", err)
	}

	backend := &ColmapBackend{Exec: opts.Exec}
	reconstruction, err := backend.Run(ctx, frames.FramesDir, filepath.Join(opts.OutputDir, "colmap"), logger)
	if err != nil {
		return fail("reconstruction", err)
	}
	summary.Reconstruction = &reconstruction

	sparsePLY, err := ExportSparsePLY(ctx, opts.Exec, reconstruction.SparseModelDir, outDir, logger)
	if err != nil {
		return fail("export", err)
	}
	summary.SparsePLY = sparsePLY

	points, err := ply.ReadFile(sparsePLY)
	if err != nil {
		return fail("export", err)
	}

	anchorResult, err := runAnchorStage(opts, logger)
	if err != nil {
		return fail("anchor", err)
	}
	summary.Anchor = anchorResult

	var anchorScale *float64
	if anchorResult != nil && anchorResult.Resolved {
		anchorScale = anchorResult.ScaleFactor
	}
	scaleOutcome, err := scale.Apply(points, anchorScale, opts.ScalePolicy)
	if err != nil {
		return fail("scale", err)
	}
	summary.Scale = &scaleOutcome
	for _, warning := range scaleOutcome.Warnings {
		logger.Warn(warning)
	}
	scaledPoints := scale.ScalePoints(points, scaleOutcome.AppliedFactor)

	frame := SelectReferenceFrame(scaledPoints, anchorResult, metadataOrigin(summary.Metadata))
	summary.ReferenceFrame = &frame
	if _, err := WriteReferenceFrame(outDir, frame, anchorResult, scaledPoints, false); err != nil {
		return fail("reference_frame", err)
	}

	georegCfg := opts.Georeg
	georegCfg.RelEligible = true
	georeg, err := geo.Run(opts.OutputDir, georegCfg, logger)
	if err != nil {
		return fail("georegistration", err)
	}
	summary.Georeg = &georeg

	summary.Elapsed = time.Since(started)
	if err := writeReports(opts, summary); err != nil {
		return fail("report", err)
	}
	logger.Info("pipeline complete",
		"output_dir", opts.OutputDir,
		"frames", frames.FrameCount,
		"elapsed", summary.Elapsed.String())
	return summary, nil
}

// runAnchorStage resolves the marker-board anchor when a board spec was
// given. Missing detector output degrades the anchor, never the run.
func runAnchorStage(opts Options, logger domain.Logger) (*anchor.Result, error) {
	if opts.BoardSpecPath == "" {
		return nil, nil
	}
	board, err := anchor.LoadBoardSpec(opts.BoardSpecPath)
	if err != nil {
		return nil, err
	}

	var detections *anchor.Detections
	if opts.DetectionsPath != "" {
		loaded, err := anchor.LoadDetections(opts.DetectionsPath)
		if err != nil {
			return nil, err
		}
		detections = &loaded
	}

	result, poses := anchor.Resolve(&board, detections, opts.GateConfig)
	if result.CapabilityMissing {
		logger.Warn("anchor detector capability missing", "guidance", result.Guidance)
	} else if !result.Resolved {
		logger.Warn("anchor not resolved", "reason", result.FailureReason)
	}
	if err := anchor.WriteArtifacts(filepath.Join(opts.OutputDir, "anchor"), result, poses); err != nil {
		return nil, err
	}
	return &result, nil
}

// metadataOrigin extracts a declared capture origin from the container
// metadata, when the recording device wrote one.
func metadataOrigin(metadata MetadataResult) *[3]float64 {
	raw, ok := metadata.Container["origin_xyz"].([]any)
	if !ok || len(raw) != 3 {
		return nil
	}
	var origin [3]float64
	for i, v := range raw {
		value, ok := v.(float64)
		if !ok {
			return nil
		}
		origin[i] = value
	}
	return &origin
}

func writeReports(opts Options, summary *RunSummary) error {
	runReport := BuildRunReport(RunReportParams{
		Ingest:         summary.Ingest,
		Metadata:       summary.Metadata,
		Frames:         summary.Frames,
		Backend:        opts.Backend,
		Params:         reportParams(opts),
		Reconstruction: summary.Reconstruction,
		FailureReason:  summary.FailureReason,
		Elapsed:        summary.Elapsed,
	})
	if summary.Scale != nil {
		runReport["scale"] = summary.Scale
	}
	if summary.ReferenceFrame != nil {
		runReport["reference_frame"] = summary.ReferenceFrame
	}
	if summary.Georeg != nil {
		runReport["georeg"] = summary.Georeg.Report
	}
	if err := WriteJSONReport(filepath.Join(summary.Ingest.OutputDir, "run.json"), runReport); err != nil {
		return err
	}

	metrics := BuildMetricsReport(summary.Reconstruction, summary.Metadata, summary.Frames, summary.FailureReason)
	if err := WriteJSONReport(filepath.Join(summary.Ingest.OutputDir, "reconstruction_metrics.json"), metrics); err != nil {
		return err
	}

	if opts.MetricsHTML {
		var reprojErrors []float64
		if summary.Reconstruction != nil && summary.Reconstruction.SparseModelDir != "" {
			reprojErrors, _ = ParseReprojectionErrors(filepath.Join(summary.Reconstruction.SparseModelDir, "points3D.txt"))
		}
		if err := RenderMetricsHTML(filepath.Join(summary.Ingest.OutputDir, "metrics.html"), reprojErrors); err != nil {
			return err
		}
	}
	return nil
}

func reportParams(opts Options) map[string]any {
	return map[string]any{
		"fps":         opts.FPS,
		"max_frames":  opts.MaxFrames,
		"regime":      string(opts.ScalePolicy.Regime),
		"georeg_mode": opts.Georeg.Mode,
	}
}
