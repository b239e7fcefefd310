package anchor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodDetections(frames int, reprojErr float64) *Detections {
	det := &Detections{Detector: "aruco-cli", MarkerIDs: []int{3, 1, 2}}
	for i := 0; i < frames; i++ {
		det.FramePoses = append(det.FramePoses, FramePose{
			FrameIndex:       i,
			TranslationXYZ:   [3]float64{0, 0, 1},
			RotationQuatWXYZ: [4]float64{1, 0, 0, 0},
			ReprojErrPx:      reprojErr,
			DetectedMarkers:  8,
		})
	}
	return det
}

func testBoard() *BoardSpec {
	return &BoardSpec{
		Family:           FamilyAruco4x4,
		Rows:             4,
		Cols:             5,
		MarkerSizeM:      0.04,
		MarkerSpacingM:   0.01,
		OriginDefinition: "board_center",
		BoardID:          "board-v1",
	}
}

func TestResolveAppliesBoardCenterOrigin(t *testing.T) {
	board := testBoard()
	result, poses := Resolve(board, goodDetections(20, 0.8), DefaultGateConfig())
	require.True(t, result.Resolved)
	require.True(t, result.Applied)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
	require.NotNil(t, result.OriginXYZ)
	center := board.CenterM()
	assert.Equal(t, center, *result.OriginXYZ)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, *result.RotationQuatWXYZ)
	assert.Equal(t, 1.0, *result.ScaleFactor)
	assert.Len(t, poses, 20)
	assert.Equal(t, []int{1, 2, 3}, result.Evidence["detected_marker_ids"])
	assert.Equal(t, "high", result.Evidence["scale_confidence"])
}

func TestResolveMissingBoardSpec(t *testing.T) {
	result, poses := Resolve(nil, goodDetections(20, 0.8), DefaultGateConfig())
	assert.False(t, result.Resolved)
	assert.Equal(t, "missing_board_spec", result.FailureReason)
	assert.False(t, result.CapabilityMissing)
	assert.Empty(t, poses)
}

func TestResolveMissingDetectionsDegradesWithGuidance(t *testing.T) {
	result, _ := Resolve(testBoard(), nil, DefaultGateConfig())
	assert.False(t, result.Resolved)
	assert.True(t, result.CapabilityMissing)
	assert.Equal(t, "detections_unavailable", result.FailureReason)
	assert.Contains(t, result.Guidance, "--detections")
	assert.Equal(t, ConfidenceLow, result.Confidence)
}

func TestResolveFailsGatesOnTooFewFrames(t *testing.T) {
	result, poses := Resolve(testBoard(), goodDetections(3, 0.5), DefaultGateConfig())
	assert.False(t, result.Resolved)
	assert.Equal(t, "min_frames_with_pose", result.FailureReason)
	assert.Len(t, poses, 3)
	require.NotNil(t, result.Evidence)
}

func TestResolveFailsGatesOnHighReprojError(t *testing.T) {
	result, _ := Resolve(testBoard(), goodDetections(20, 5.0), DefaultGateConfig())
	assert.False(t, result.Resolved)
	assert.Equal(t, "max_mean_reproj_err_px", result.FailureReason)
}

func TestWriteArtifactsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	result, poses := Resolve(testBoard(), goodDetections(15, 1.0), DefaultGateConfig())
	require.NoError(t, WriteArtifacts(dir, result, poses))

	raw, err := os.ReadFile(filepath.Join(dir, "anchor", "anchor_poses.json"))
	require.NoError(t, err)
	var gotPoses []FramePose
	require.NoError(t, json.Unmarshal(raw, &gotPoses))
	assert.Len(t, gotPoses, 15)

	summary, err := LoadSummary(dir)
	require.NoError(t, err)
	assert.True(t, summary.Resolved)
	assert.Equal(t, TypeMarkerBoard, summary.AnchorType)
	require.NotNil(t, summary.OriginXYZ)
}

func TestWriteArtifactsUnresolvedSerializes(t *testing.T) {
	dir := t.TempDir()
	result, poses := Resolve(testBoard(), &Detections{Detector: "aruco-cli"}, DefaultGateConfig())
	require.False(t, result.Resolved)
	require.NoError(t, WriteArtifacts(dir, result, poses))
	summary, err := LoadSummary(dir)
	require.NoError(t, err)
	assert.Equal(t, "min_frames_with_pose", summary.FailureReason)
}

func TestLoadBoardSpecDefaultsAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"family":"aruco_4x4","rows":2,"cols":3,"marker_size_m":0.05,"marker_spacing_m":0.01}`), 0o644))
	spec, err := LoadBoardSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "board_center", spec.OriginDefinition)
	assert.Equal(t, "board-v1", spec.BoardID)
	assert.InDelta(t, 0.17, spec.WidthM(), 1e-9)
	assert.InDelta(t, 0.11, spec.HeightM(), 1e-9)
	assert.InDelta(t, 0.085, spec.CenterM()[0], 1e-9)

	require.NoError(t, os.WriteFile(path, []byte(`{"family":"qr","rows":2,"cols":3,"marker_size_m":0.05}`), 0o644))
	_, err = LoadBoardSpec(path)
	assert.ErrorContains(t, err, "unsupported marker family")

	require.NoError(t, os.WriteFile(path, []byte(`{"family":"aruco_4x4","rows":0,"cols":3,"marker_size_m":0.05}`), 0o644))
	_, err = LoadBoardSpec(path)
	assert.ErrorContains(t, err, "at least one row")
}

func TestEvaluateGatesMADRejectsOutliers(t *testing.T) {
	errorsPx := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		// Alternate around 1.0 so the MAD is non-zero.
		if i%2 == 0 {
			errorsPx = append(errorsPx, 0.9)
		} else {
			errorsPx = append(errorsPx, 1.1)
		}
	}
	errorsPx = append(errorsPx, 50.0)

	result := EvaluateGates(errorsPx, DefaultGateConfig())
	assert.True(t, result.Passed)
	assert.Equal(t, 21, result.Stats.TotalFrames)
	assert.Equal(t, 20, result.Stats.KeptFrames)
	require.NotNil(t, result.Stats.MeanReprojErrPx)
	assert.Less(t, *result.Stats.MeanReprojErrPx, 2.0)
}

func TestEvaluateGatesEmptyInput(t *testing.T) {
	result := EvaluateGates(nil, DefaultGateConfig())
	assert.False(t, result.Passed)
	assert.Contains(t, result.FailureReasons, "min_frames_with_pose")
	assert.Nil(t, result.Stats.MeanReprojErrPx)
}
