package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"labos/internal/scanner/ply"
	"labos/pkg/domain"
)

// Georegistration modes.
const (
	ModeOff     = "off"
	ModeTry     = "try"
	ModeRequire = "require"
)

// SpaceChoices are the model spaces a georegistration may be anchored to.
var SpaceChoices = []string{"raw", "scaled", "centered", "anchored"}

// Config drives one georegistration stage run.
type Config struct {
	Mode        string
	Space       string
	MaxRMSEM    float64
	GCPFile     string
	RelEligible bool
}

// DefaultConfig is georegistration switched off.
func DefaultConfig() Config {
	return Config{Mode: ModeOff, Space: "anchored", MaxRMSEM: 0.05}
}

// Result is the stage outcome. Report is always populated and written to
// stage_reports/georeg.json whether or not a transform was solved.
type Result struct {
	Solved    bool
	Report    map[string]any
	Transform *Transform
}

// TransformEntry is one row of out/transforms.json.
type TransformEntry struct {
	Name    string      `json:"name"`
	Matrix  [][]float64 `json:"matrix"`
	ToSpace string      `json:"to_space"`
}

type transformsDoc struct {
	Spaces  map[string][][]float64 `json:"spaces,omitempty"`
	Entries []TransformEntry       `json:"entries"`
}

// Run executes the georegistration stage under runDir: solve a Helmert
// transform from the GCP file, write the geo artifacts, append T_georeg
// to transforms.json, and rewrite any present point clouds in the
// registered frame. Mode try degrades to a skipped report on solver
// errors; mode require propagates them.
func Run(runDir string, cfg Config, logger domain.Logger) (Result, error) {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	stageReport := filepath.Join(runDir, "stage_reports", "georeg.json")

	if cfg.Mode == ModeOff || cfg.Mode == "" {
		report := map[string]any{"status": "skipped", "reason": "georeg disabled"}
		if err := writeJSON(stageReport, report); err != nil {
			return Result{}, err
		}
		return Result{Report: report}, nil
	}

	skip := func(reason string) (Result, error) {
		logger.Warn("skipping georegistration", "reason", reason)
		report := map[string]any{"status": "skipped", "reason": reason}
		if err := writeJSON(stageReport, report); err != nil {
			return Result{}, err
		}
		return Result{Report: report}, nil
	}

	if cfg.GCPFile == "" {
		const message = "GCP file is required when georegistration is enabled"
		if cfg.Mode == ModeRequire {
			return Result{}, errors.New(message)
		}
		return skip(message)
	}

	gcps, err := LoadGCPs(cfg.GCPFile)
	if err != nil {
		if cfg.Mode == ModeRequire {
			return Result{}, err
		}
		return skip(err.Error())
	}
	transform, err := SolveHelmert(gcps.ModelPoints(), gcps.WorldPoints())
	if err != nil {
		if cfg.Mode == ModeRequire {
			return Result{}, err
		}
		return skip(err.Error())
	}

	residuals := ComputeResiduals(transform, gcps.ModelPoints(), gcps.WorldPoints())
	perPoint := map[string]float64{}
	for i, rec := range gcps.Records {
		perPoint[rec.ID] = residuals.PerPointM[i]
	}
	residualsPayload := map[string]any{
		"per_point_m": perPoint,
		"summary": map[string]any{
			"rmse_m": residuals.RMSEM,
			"mean_m": residuals.MeanM,
			"p95_m":  residuals.P95M,
		},
	}

	var enu any
	if gcps.ENU != nil {
		enu = map[string]any{"lat": gcps.ENU.LatDeg, "lon": gcps.ENU.LonDeg, "alt_m": gcps.ENU.AltM}
	}
	geoDir := filepath.Join(runDir, "out", "geo")
	if err := writeJSON(filepath.Join(geoDir, "geo_transform.json"), map[string]any{
		"scale":        transform.Scale,
		"rotation":     rotationRows(transform),
		"translation":  transform.Translation,
		"georeg_space": cfg.Space,
		"world_frame":  gcps.WorldFrame,
		"enu_origin":   enu,
	}); err != nil {
		return Result{}, err
	}
	if err := writeJSON(filepath.Join(geoDir, "gcp_residuals.json"), residualsPayload); err != nil {
		return Result{}, err
	}

	georegMatrix := transform.Matrix()
	transformsPath := filepath.Join(runDir, "out", "transforms.json")
	doc, err := loadTransforms(transformsPath)
	if err != nil {
		return Result{}, err
	}
	spaceMatrix := doc.spaceMatrix(cfg.Space)
	doc.Entries = append(doc.Entries, TransformEntry{Name: "T_georeg", Matrix: georegMatrix, ToSpace: "world"})
	if err := writeJSON(transformsPath, doc); err != nil {
		return Result{}, err
	}

	combined := matMul(georegMatrix, spaceMatrix)
	if err := transformReconstruction(filepath.Join(runDir, "out"), combined); err != nil {
		return Result{}, err
	}

	rmse := residuals.RMSEM
	report := map[string]any{
		"status":       "solved",
		"gcp_count":    len(gcps.Records),
		"world_frame":  gcps.WorldFrame,
		"enu_origin":   enu,
		"georeg_space": cfg.Space,
		"transform": map[string]any{
			"scale":       transform.Scale,
			"rotation":    rotationRows(transform),
			"translation": transform.Translation,
		},
		"residuals":  residualsPayload,
		"validation": EvaluateAerialAbs(cfg.RelEligible, true, &rmse, cfg.MaxRMSEM),
	}
	if err := writeJSON(stageReport, report); err != nil {
		return Result{}, err
	}
	return Result{Solved: true, Report: report, Transform: &transform}, nil
}

func rotationRows(t Transform) [][]float64 {
	rows := make([][]float64, 3)
	for i := 0; i < 3; i++ {
		rows[i] = []float64{t.Rotation.At(i, 0), t.Rotation.At(i, 1), t.Rotation.At(i, 2)}
	}
	return rows
}

func loadTransforms(path string) (transformsDoc, error) {
	doc := transformsDoc{Entries: []TransformEntry{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		doc.Spaces = map[string][][]float64{"raw": identityMatrix()}
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read transforms: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse transforms: %w", err)
	}
	return doc, nil
}

// spaceMatrix resolves the model-to-space matrix by direct lookup or by
// folding entries in order until the target space is reached.
func (d transformsDoc) spaceMatrix(space string) [][]float64 {
	if m, ok := d.Spaces[space]; ok {
		return m
	}
	matrix := identityMatrix()
	for _, entry := range d.Entries {
		matrix = matMul(entry.Matrix, matrix)
		if entry.ToSpace == space {
			break
		}
	}
	return matrix
}

func identityMatrix() [][]float64 {
	m := make([][]float64, 4)
	for i := range m {
		m[i] = make([]float64, 4)
		m[i][i] = 1
	}
	return m
}

func matMul(a, b [][]float64) [][]float64 {
	out := make([][]float64, 4)
	for i := range out {
		out[i] = make([]float64, 4)
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func applyMatrix(m [][]float64, p ply.Point) ply.Point {
	return ply.Point{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// transformReconstruction writes registered copies of whichever point
// clouds the reconstruction produced. Absent files are not an error.
func transformReconstruction(reconDir string, matrix [][]float64) error {
	pairs := [][2]string{
		{"sparse.ply", "sparse_georeg.ply"},
		{"dense.ply", "dense_georeg.ply"},
	}
	for _, pair := range pairs {
		src := filepath.Join(reconDir, pair[0])
		if _, err := os.Stat(src); err != nil {
			continue
		}
		points, err := ply.ReadFile(src)
		if err != nil {
			return err
		}
		for i, p := range points {
			points[i] = applyMatrix(matrix, p)
		}
		if err := ply.WriteFile(filepath.Join(reconDir, pair[1]), points); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, payload any) error {
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
