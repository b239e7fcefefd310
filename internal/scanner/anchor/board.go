// Package anchor resolves marker-board world anchors from externally
// detected board poses, gated by reprojection-error quality checks.
package anchor

import (
	"encoding/json"
	"fmt"
	"os"
)

// Marker families a board may use.
const (
	FamilyAruco4x4 = "aruco_4x4"
	FamilyAruco5x5 = "aruco_5x5"
	FamilyAprilTag = "apriltag"
)

// BoardSpec describes a printed marker grid. The world origin is defined
// at the board center with the board plane at z = 0.
type BoardSpec struct {
	Family           string  `json:"family"`
	Rows             int     `json:"rows"`
	Cols             int     `json:"cols"`
	MarkerSizeM      float64 `json:"marker_size_m"`
	MarkerSpacingM   float64 `json:"marker_spacing_m"`
	OriginDefinition string  `json:"origin_definition"`
	BoardID          string  `json:"board_id"`
}

// Validate rejects geometrically impossible specs.
func (s BoardSpec) Validate() error {
	switch s.Family {
	case FamilyAruco4x4, FamilyAruco5x5, FamilyAprilTag:
	default:
		return fmt.Errorf("unsupported marker family %q", s.Family)
	}
	if s.Rows < 1 || s.Cols < 1 {
		return fmt.Errorf("board must have at least one row and column, got %dx%d", s.Rows, s.Cols)
	}
	if s.MarkerSizeM <= 0 {
		return fmt.Errorf("marker size must be positive, got %g", s.MarkerSizeM)
	}
	if s.MarkerSpacingM < 0 {
		return fmt.Errorf("marker spacing must be non-negative, got %g", s.MarkerSpacingM)
	}
	if s.OriginDefinition != "" && s.OriginDefinition != "board_center" {
		return fmt.Errorf("unsupported origin definition %q", s.OriginDefinition)
	}
	return nil
}

// WidthM is the printed board width.
func (s BoardSpec) WidthM() float64 {
	return float64(s.Cols)*s.MarkerSizeM + float64(s.Cols-1)*s.MarkerSpacingM
}

// HeightM is the printed board height.
func (s BoardSpec) HeightM() float64 {
	return float64(s.Rows)*s.MarkerSizeM + float64(s.Rows-1)*s.MarkerSpacingM
}

// CenterM is the board-center origin in board coordinates.
func (s BoardSpec) CenterM() [3]float64 {
	return [3]float64{s.WidthM() / 2, s.HeightM() / 2, 0}
}

// LoadBoardSpec reads and validates a board spec JSON file, applying
// the board_center origin and board-v1 id defaults when omitted.
func LoadBoardSpec(path string) (BoardSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BoardSpec{}, fmt.Errorf("read board spec: %w", err)
	}
	var spec BoardSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return BoardSpec{}, fmt.Errorf("parse board spec: %w", err)
	}
	if spec.OriginDefinition == "" {
		spec.OriginDefinition = "board_center"
	}
	if spec.BoardID == "" {
		spec.BoardID = "board-v1"
	}
	if err := spec.Validate(); err != nil {
		return BoardSpec{}, err
	}
	return spec, nil
}
