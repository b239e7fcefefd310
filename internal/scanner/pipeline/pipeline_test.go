package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labos/internal/scanner/anchor"
	"labos/internal/scanner/execx"
	"labos/internal/scanner/ply"
	"labos/internal/scanner/scale"
	"labos/pkg/domain"
)

var nopLog = domain.NopLogger{}

func resolvedAnchor() *anchor.Result {
	origin := [3]float64{0.5, 0.5, 0}
	factor := 1.0
	return &anchor.Result{
		AnchorType:  anchor.TypeMarkerBoard,
		Resolved:    true,
		Applied:     true,
		OriginXYZ:   &origin,
		ScaleFactor: &factor,
		Confidence:  anchor.ConfidenceHigh,
	}
}

// fakeExec scripts the external tools so pipeline tests run without
// ffmpeg or COLMAP installed.
type fakeExec struct {
	missing   map[string]bool
	onExecute func(program string, args []string) (*execx.Result, error)
	commands  [][]string
}

func (f *fakeExec) Probe(program string) error {
	if f.missing[program] {
		return &execx.UnavailableError{Tool: program, Guidance: "install " + program}
	}
	return nil
}

func (f *fakeExec) Execute(_ context.Context, program string, args []string, _ ...execx.Option) (*execx.Result, error) {
	if err := f.Probe(program); err != nil {
		return nil, err
	}
	f.commands = append(f.commands, append([]string{program}, args...))
	if f.onExecute != nil {
		return f.onExecute(program, args)
	}
	return &execx.Result{}, nil
}

func writeVideoStub(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func readJSONFile(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

const ffprobePayload = `{
  "format": {"format_name": "mov,mp4", "duration": "12.5", "bit_rate": "800000"},
  "streams": [{"codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
    "avg_frame_rate": "30/1", "r_frame_rate": "30/1",
    "tags": {"com.apple.quicktime.model": "iPhone"}}]
}`

func TestIngestHashesInputAndCreatesTree(t *testing.T) {
	input := writeVideoStub(t)
	outDir := filepath.Join(t.TempDir(), "run")

	result, err := Ingest(input, outDir)
	require.NoError(t, err)
	assert.Equal(t, input, result.InputPath)
	assert.Len(t, result.InputHash, 64)
	for _, sub := range []string{"frames", "colmap", "out", "stage_reports"} {
		info, err := os.Stat(filepath.Join(outDir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestIngestRejectsMissingInput(t *testing.T) {
	_, err := Ingest(filepath.Join(t.TempDir(), "nope.mp4"), t.TempDir())
	require.Error(t, err)
}

func TestExtractMetadataFFprobe(t *testing.T) {
	exec := &fakeExec{onExecute: func(string, []string) (*execx.Result, error) {
		return &execx.Result{Stdout: ffprobePayload}, nil
	}}
	result := ExtractMetadata(context.Background(), exec, "scan.mp4", nopLog)
	assert.Equal(t, "ffprobe", result.Source)
	assert.Contains(t, result.ExtractedFields, "streams.width")
	assert.Contains(t, result.ExtractedFields, "format.duration")
	assert.Contains(t, result.MissingFields, "format.tags")
	assert.Empty(t, result.Warnings)
}

func TestExtractMetadataFallsBackWithoutFFprobe(t *testing.T) {
	input := writeVideoStub(t)
	exec := &fakeExec{missing: map[string]bool{"ffprobe": true}}
	result := ExtractMetadata(context.Background(), exec, input, nopLog)
	assert.Equal(t, "fallback", result.Source)
	assert.NotEmpty(t, result.Warnings)
	assert.Empty(t, result.ExtractedFields)
	assert.EqualValues(t, 18, result.Container["size_bytes"])
}

func TestExtractFramesCountsAndTruncates(t *testing.T) {
	framesDir := t.TempDir()
	exec := &fakeExec{onExecute: func(program string, args []string) (*execx.Result, error) {
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("frame_%06d.png", i)
			if err := os.WriteFile(filepath.Join(framesDir, name), []byte{0}, 0o644); err != nil {
				return nil, err
			}
		}
		return &execx.Result{}, nil
	}}
	result, err := ExtractFrames(context.Background(), exec, "scan.mp4", framesDir, 2, 3, nopLog)
	require.NoError(t, err)
	assert.Equal(t, 3, result.FrameCount)
	assert.True(t, result.Truncated)
	assert.Equal(t, 2.0, result.RequestedFPS)
}

func TestExtractFramesMissingFFmpegIsFatal(t *testing.T) {
	exec := &fakeExec{missing: map[string]bool{"ffmpeg": true}}
	_, err := ExtractFrames(context.Background(), exec, "scan.mp4", t.TempDir(), 0, 0, nopLog)
	require.Error(t, err)
	assert.True(t, execx.IsUnavailable(err))
}

func TestColmapBackendMissingBinary(t *testing.T) {
	backend := &ColmapBackend{Exec: &fakeExec{missing: map[string]bool{"colmap": true}}}
	_, err := backend.Run(context.Background(), t.TempDir(), t.TempDir(), nopLog)
	require.Error(t, err)
	assert.True(t, IsBackendUnavailable(err))
	assert.Contains(t, err.Error(), "install colmap")
}

func TestColmapBackendRunsSequenceAndFindsModel(t *testing.T) {
	workspace := t.TempDir()
	exec := &fakeExec{onExecute: func(program string, args []string) (*execx.Result, error) {
		if args[0] == "mapper" {
			if err := os.MkdirAll(filepath.Join(argValue(args, "--output_path"), "0"), 0o755); err != nil {
				return nil, err
			}
		}
		return &execx.Result{}, nil
	}}
	backend := &ColmapBackend{Exec: exec}

	result, err := backend.Run(context.Background(), t.TempDir(), workspace, nopLog)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace, "sparse", "0"), result.SparseModelDir)
	assert.FileExists(t, result.BackendLog)
	require.Len(t, exec.commands, 3)
	assert.Equal(t, "feature_extractor", exec.commands[0][1])
	assert.Equal(t, "exhaustive_matcher", exec.commands[1][1])
	assert.Equal(t, "mapper", exec.commands[2][1])
}

func TestExportPlaceholders(t *testing.T) {
	assert.ErrorIs(t, ExportOBJ("in", "out"), ErrUnsupportedExport)
	assert.ErrorIs(t, ExportGLTF("in", "out"), ErrUnsupportedExport)
}

func TestParseReprojectionErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points3D.txt")
	content := strings.Join([]string{
		"# 3D point list with one line of data per point:",
		"#   POINT3D_ID, X, Y, Z, R, G, B, ERROR, TRACK[]",
		"1 0.1 0.2 0.3 255 0 0 1.25 1 0",
		"2 0.4 0.5 0.6 0 255 0 0.75 1 1",
		"short line",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	errorsPx, err := ParseReprojectionErrors(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.25, 0.75}, errorsPx)
}

func TestClassifyScaleConfidence(t *testing.T) {
	withFields := func(source string, tags map[string]any) MetadataResult {
		return MetadataResult{
			Source:          source,
			Container:       map[string]any{},
			Streams:         []map[string]any{{"tags": tags}},
			ExtractedFields: []string{"streams.width", "streams.height"},
		}
	}

	assert.Equal(t, "low", ClassifyScaleConfidence(MetadataResult{Source: "ffprobe"}))
	assert.Equal(t, "low", ClassifyScaleConfidence(withFields("fallback", nil)))
	assert.Equal(t, "low", ClassifyScaleConfidence(withFields("ffprobe", map[string]any{"encoder": "x264"})))
	assert.Equal(t, "medium", ClassifyScaleConfidence(withFields("ffprobe", map[string]any{"com.apple.quicktime.model": "iPhone"})))
	assert.Equal(t, "medium", ClassifyScaleConfidence(withFields("ffprobe", map[string]any{"FocalLength": "4.2"})))
}

func TestSelectReferenceFramePrecedence(t *testing.T) {
	points := []ply.Point{{X: 2, Y: 0, Z: 0}, {X: 4, Y: 0, Z: 0}}
	meta := [3]float64{1, 1, 1}

	frame := SelectReferenceFrame(points, resolvedAnchor(), &meta)
	assert.Equal(t, "anchor", frame.Source)

	frame = SelectReferenceFrame(points, nil, &meta)
	assert.Equal(t, "metadata", frame.Source)
	assert.Equal(t, meta, *frame.OriginXYZ)

	frame = SelectReferenceFrame(points, nil, nil)
	assert.Equal(t, "centroid", frame.Source)
	assert.Equal(t, [3]float64{3, 0, 0}, *frame.OriginXYZ)

	frame = SelectReferenceFrame(nil, nil, nil)
	assert.Nil(t, frame.OriginXYZ)
	assert.Empty(t, frame.Source)
}

func TestWriteReferenceFrameCentersCloud(t *testing.T) {
	outDir := t.TempDir()
	points := []ply.Point{{X: 2, Y: 2, Z: 2}, {X: 4, Y: 4, Z: 4}}
	origin := [3]float64{3, 3, 3}
	frame := ReferenceFrame{OriginXYZ: &origin, Source: "centroid", Notes: []string{}}

	centeredPath, err := WriteReferenceFrame(outDir, frame, nil, points, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "scene_sparse_scaled_centered.ply"), centeredPath)

	centered, err := ply.ReadFile(centeredPath)
	require.NoError(t, err)
	want := []ply.Point{{X: -1, Y: -1, Z: -1}, {X: 1, Y: 1, Z: 1}}
	if diff := cmp.Diff(want, centered, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("centered cloud mismatch (-want +got):\n%s", diff)
	}

	payload := readJSONFile(t, filepath.Join(outDir, "reference_frame.json"))
	assert.Equal(t, "centroid", payload["source"])
}

func TestRenderMetricsHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.html")
	require.NoError(t, RenderMetricsHTML(path, []float64{0.5, 0.6, 1.2, 2.4}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Reprojection error")
}

func TestRunMissingColmapWritesPartialReports(t *testing.T) {
	input := writeVideoStub(t)
	outDir := filepath.Join(t.TempDir(), "run")
	exec := &fakeExec{
		missing: map[string]bool{"colmap": true},
		onExecute: func(program string, args []string) (*execx.Result, error) {
			switch program {
			case "ffprobe":
				return &execx.Result{Stdout: ffprobePayload}, nil
			case "ffmpeg":
				return &execx.Result{}, os.WriteFile(filepath.Join(outDir, "frames", "frame_000000.png"), []byte{0}, 0o644)
			}
			return &execx.Result{}, nil
		},
	}

	summary, err := Run(context.Background(), Options{
		InputPath:   input,
		OutputDir:   outDir,
		ScalePolicy: scale.Policy{Regime: scale.RegimeRoomBuilding},
		Exec:        exec,
	})
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "reconstruction", stageErr.Stage)
	assert.True(t, IsBackendUnavailable(err))
	assert.NotEmpty(t, summary.FailureReason)

	runReport := readJSONFile(t, filepath.Join(outDir, "run.json"))
	reconstruction := runReport["reconstruction"].(map[string]any)
	assert.Equal(t, "failed", reconstruction["status"])
	assert.Contains(t, reconstruction["failure_reason"], "install colmap")

	metrics := readJSONFile(t, filepath.Join(outDir, "reconstruction_metrics.json"))
	assert.Equal(t, "failed", metrics["status"])
	assert.Equal(t, float64(0), metrics["point_count"])
}

func TestRunFullPipelineWithScriptedTools(t *testing.T) {
	input := writeVideoStub(t)
	outDir := filepath.Join(t.TempDir(), "run")
	exec := &fakeExec{onExecute: func(program string, args []string) (*execx.Result, error) {
		switch program {
		case "ffprobe":
			return &execx.Result{Stdout: ffprobePayload}, nil
		case "ffmpeg":
			for i := 0; i < 12; i++ {
				name := fmt.Sprintf("frame_%06d.png", i)
				if err := os.WriteFile(filepath.Join(outDir, "frames", name), []byte{0}, 0o644); err != nil {
					return nil, err
				}
			}
			return &execx.Result{}, nil
		case "colmap":
			switch args[0] {
			case "mapper":
				modelDir := filepath.Join(argValue(args, "--output_path"), "0")
				if err := os.MkdirAll(modelDir, 0o755); err != nil {
					return nil, err
				}
				points := "# header\n1 0 0 0 255 0 0 0.8 1 0\n2 1 1 1 0 255 0 1.2 1 1\n"
				return &execx.Result{}, os.WriteFile(filepath.Join(modelDir, "points3D.txt"), []byte(points), 0o644)
			case "model_converter":
				return &execx.Result{}, ply.WriteFile(argValue(args, "--output_path"), []ply.Point{
					{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 0, Z: 1},
				})
			}
			return &execx.Result{}, nil
		}
		return &execx.Result{}, nil
	}}

	summary, err := Run(context.Background(), Options{
		InputPath:   input,
		OutputDir:   outDir,
		FPS:         2,
		ScalePolicy: scale.Policy{Regime: scale.RegimeRoomBuilding},
		MetricsHTML: true,
		Exec:        exec,
	})
	require.NoError(t, err)
	require.NotNil(t, summary.Reconstruction)
	assert.Equal(t, 12, summary.Frames.FrameCount)
	assert.Equal(t, "centroid", summary.ReferenceFrame.Source)
	assert.Equal(t, scale.SourceNone, summary.Scale.Source)

	runReport := readJSONFile(t, filepath.Join(outDir, "run.json"))
	assert.Equal(t, "success", runReport["reconstruction"].(map[string]any)["status"])

	metrics := readJSONFile(t, filepath.Join(outDir, "reconstruction_metrics.json"))
	assert.Equal(t, "success", metrics["status"])
	assert.Equal(t, float64(2), metrics["point_count"])
	assert.InDelta(t, 1.0, metrics["reprojection_error"].(map[string]any)["mean"].(float64), 1e-9)

	assert.FileExists(t, filepath.Join(outDir, "out", "scene_sparse_scaled_centered.ply"))
	assert.FileExists(t, filepath.Join(outDir, "out", "reference_frame.json"))
	assert.FileExists(t, filepath.Join(outDir, "metrics.html"))
	assert.FileExists(t, filepath.Join(outDir, "stage_reports", "georeg.json"))
}
