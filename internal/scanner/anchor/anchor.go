package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// TypeMarkerBoard is the anchor type this package resolves.
const TypeMarkerBoard = "marker_board"

// Confidence grades how much the downstream stages may trust an anchor.
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceMed  Confidence = "MED"
	ConfidenceLow  Confidence = "LOW"
)

// FramePose is one per-frame board pose produced by the external marker
// detector.
type FramePose struct {
	FrameIndex       int        `json:"frame_index"`
	Timestamp        *float64   `json:"timestamp"`
	TranslationXYZ   [3]float64 `json:"translation_xyz"`
	RotationQuatWXYZ [4]float64 `json:"rotation_quat_wxyz"`
	ReprojErrPx      float64    `json:"reproj_err_px"`
	DetectedMarkers  int        `json:"detected_markers"`
}

// Detections is the artifact an external marker detector writes for the
// pipeline to consume. Marker detection itself needs OpenCV ArUco and
// stays outside this binary.
type Detections struct {
	Detector   string      `json:"detector"`
	BoardID    string      `json:"board_id,omitempty"`
	MarkerIDs  []int       `json:"marker_ids"`
	FramePoses []FramePose `json:"frame_poses"`
}

// LoadDetections parses a detections artifact.
func LoadDetections(path string) (Detections, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Detections{}, fmt.Errorf("read detections: %w", err)
	}
	var det Detections
	if err := json.Unmarshal(raw, &det); err != nil {
		return Detections{}, fmt.Errorf("parse detections: %w", err)
	}
	return det, nil
}

// Result is the anchor stage outcome. A run is never failed by an
// unresolved anchor; Resolved=false with a failure reason (and guidance
// when a capability is missing) is a valid terminal state.
type Result struct {
	AnchorType        string         `json:"anchor_type"`
	Resolved          bool           `json:"resolved"`
	Applied           bool           `json:"applied"`
	OriginXYZ         *[3]float64    `json:"origin_xyz"`
	RotationQuatWXYZ  *[4]float64    `json:"rotation_quat_wxyz"`
	ScaleFactor       *float64       `json:"scale_factor"`
	Confidence        Confidence     `json:"confidence"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	CapabilityMissing bool           `json:"capability_missing"`
	Guidance          string         `json:"guidance,omitempty"`
	Evidence          map[string]any `json:"evidence,omitempty"`
}

// DetectorGuidance is surfaced when no detections artifact is available.
const DetectorGuidance = "Run a marker detector (OpenCV ArUco) over the extracted frames " +
	"and pass its output with --detections. The scanner binary does not embed a detector."

func unresolved(reason string) Result {
	return Result{AnchorType: TypeMarkerBoard, Confidence: ConfidenceLow, FailureReason: reason}
}

// Resolve gates the detected board poses and, when they pass, anchors
// the world frame at the board center with identity rotation and unit
// scale.
func Resolve(board *BoardSpec, detections *Detections, cfg GateConfig) (Result, []FramePose) {
	if board == nil {
		return unresolved("missing_board_spec"), nil
	}
	if detections == nil {
		res := unresolved("detections_unavailable")
		res.CapabilityMissing = true
		res.Guidance = DetectorGuidance
		return res, nil
	}

	poses := append([]FramePose(nil), detections.FramePoses...)
	sort.Slice(poses, func(i, j int) bool { return poses[i].FrameIndex < poses[j].FrameIndex })
	reprojErrors := make([]float64, len(poses))
	for i, pose := range poses {
		reprojErrors[i] = pose.ReprojErrPx
	}

	gate := EvaluateGates(reprojErrors, cfg)
	markerIDs := append([]int(nil), detections.MarkerIDs...)
	sort.Ints(markerIDs)
	evidence := map[string]any{
		"detector":               detections.Detector,
		"detected_marker_ids":    markerIDs,
		"poses_with_valid_board": len(poses),
		"reproj_error_stats":     gate.Stats,
	}

	if !gate.Passed {
		res := unresolved(firstReason(gate.FailureReasons))
		res.Evidence = evidence
		return res, poses
	}

	origin := board.CenterM()
	rotation := [4]float64{1, 0, 0, 0}
	scale := 1.0
	evidence["origin_definition"] = board.OriginDefinition
	evidence["scale_confidence"] = "high"
	return Result{
		AnchorType:       TypeMarkerBoard,
		Resolved:         true,
		Applied:          true,
		OriginXYZ:        &origin,
		RotationQuatWXYZ: &rotation,
		ScaleFactor:      &scale,
		Confidence:       ConfidenceHigh,
		Evidence:         evidence,
	}, poses
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return "quality_gates_failed"
	}
	return reasons[0]
}

// WriteArtifacts persists anchor_poses.json and anchor_summary.json
// under <outputDir>/anchor.
func WriteArtifacts(outputDir string, result Result, poses []FramePose) error {
	anchorDir := filepath.Join(outputDir, "anchor")
	if err := os.MkdirAll(anchorDir, 0o755); err != nil {
		return fmt.Errorf("create anchor dir: %w", err)
	}
	if poses == nil {
		poses = []FramePose{}
	}
	if err := writeIndentedJSON(filepath.Join(anchorDir, "anchor_poses.json"), poses); err != nil {
		return err
	}
	return writeIndentedJSON(filepath.Join(anchorDir, "anchor_summary.json"), result)
}

func writeIndentedJSON(path string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadSummary reads a previously written anchor_summary.json.
func LoadSummary(outputDir string) (Result, error) {
	raw, err := os.ReadFile(filepath.Join(outputDir, "anchor", "anchor_summary.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, os.ErrNotExist
		}
		return Result{}, fmt.Errorf("read anchor summary: %w", err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("parse anchor summary: %w", err)
	}
	return result, nil
}
