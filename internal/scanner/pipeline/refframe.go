package pipeline

import (
	"fmt"
	"path/filepath"

	"labos/internal/scanner/anchor"
	"labos/internal/scanner/ply"
)

// ReferenceFrame records where the scene origin came from.
type ReferenceFrame struct {
	OriginXYZ *[3]float64 `json:"origin_xyz"`
	Source    string      `json:"source"`
	Notes     []string    `json:"notes"`
}

// SelectReferenceFrame picks the scene origin: a resolved anchor of at
// least medium confidence, then a metadata-declared origin, then the
// point-cloud centroid.
func SelectReferenceFrame(points []ply.Point, anchorResult *anchor.Result, metadataOrigin *[3]float64) ReferenceFrame {
	frame := ReferenceFrame{Notes: []string{}}

	if anchorResult != nil && anchorResult.Resolved && anchorResult.OriginXYZ != nil {
		if anchorResult.Confidence != anchor.ConfidenceLow {
			frame.OriginXYZ = anchorResult.OriginXYZ
			frame.Source = "anchor"
			frame.Notes = append(frame.Notes, "Applied anchor-derived origin.")
			return frame
		}
		frame.Notes = append(frame.Notes, "Anchor origin ignored due to low confidence.")
	}

	if metadataOrigin != nil {
		frame.OriginXYZ = metadataOrigin
		frame.Source = "metadata"
		frame.Notes = append(frame.Notes, "Applied metadata origin fallback.")
		return frame
	}

	if len(points) > 0 {
		centroid := Centroid(points)
		frame.OriginXYZ = &centroid
		frame.Source = "centroid"
		frame.Notes = append(frame.Notes, "Applied point-cloud centroid origin.")
	}
	return frame
}

// Centroid is the mean of the points.
func Centroid(points []ply.Point) [3]float64 {
	var sum [3]float64
	for _, p := range points {
		sum[0] += p.X
		sum[1] += p.Y
		sum[2] += p.Z
	}
	n := float64(len(points))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// TranslatePoints subtracts the origin from every point.
func TranslatePoints(points []ply.Point, origin [3]float64) []ply.Point {
	out := make([]ply.Point, len(points))
	for i, p := range points {
		out[i] = ply.Point{X: p.X - origin[0], Y: p.Y - origin[1], Z: p.Z - origin[2]}
	}
	return out
}

// WriteReferenceFrame writes the centered point cloud (when an origin
// was selected) and out/reference_frame.json. It returns the centered
// cloud path, empty when no centering applied.
func WriteReferenceFrame(outDir string, frame ReferenceFrame, anchorResult *anchor.Result, points []ply.Point, dense bool) (string, error) {
	centeredPath := ""
	if frame.OriginXYZ != nil && len(points) > 0 {
		name := "scene_sparse_scaled_centered.ply"
		if dense {
			name = "dense_scaled_centered.ply"
		}
		centeredPath = filepath.Join(outDir, name)
		if err := ply.WriteFile(centeredPath, TranslatePoints(points, *frame.OriginXYZ)); err != nil {
			return "", fmt.Errorf("write centered cloud: %w", err)
		}
	}

	payload := map[string]any{
		"origin_xyz": frame.OriginXYZ,
		"source":     frame.Source,
		"notes":      frame.Notes,
		"anchors":    anchorResult,
	}
	if err := WriteJSONReport(filepath.Join(outDir, "reference_frame.json"), payload); err != nil {
		return "", err
	}
	return centeredPath, nil
}
