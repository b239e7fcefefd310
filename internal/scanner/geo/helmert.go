// Package geo solves anchor-based georegistration: ground-control-point
// parsing, the Helmert similarity transform, residual reporting, and the
// absolute-accuracy eligibility gate.
package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Transform is a similarity (7-parameter Helmert) transform: uniform
// scale, rotation, translation.
type Transform struct {
	Scale       float64
	Rotation    *mat.Dense // 3x3
	Translation []float64  // 3
}

// Matrix returns the 4x4 homogeneous form.
func (t Transform) Matrix() [][]float64 {
	m := make([][]float64, 4)
	for i := range m {
		m[i] = make([]float64, 4)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = t.Scale * t.Rotation.At(i, j)
		}
		m[i][3] = t.Translation[i]
	}
	m[3][3] = 1
	return m
}

// Apply transforms one point.
func (t Transform) Apply(p [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = t.Scale*(t.Rotation.At(i, 0)*p[0]+t.Rotation.At(i, 1)*p[1]+t.Rotation.At(i, 2)*p[2]) + t.Translation[i]
	}
	return out
}

// Inverse returns the transform mapping world coordinates back to model
// coordinates.
func (t Transform) Inverse() Transform {
	invScale := 1.0 / t.Scale
	var invRot mat.Dense
	invRot.CloneFrom(t.Rotation.T())
	rotated := applyRotation(&invRot, t.Translation)
	return Transform{
		Scale:    invScale,
		Rotation: &invRot,
		Translation: []float64{
			-invScale * rotated[0],
			-invScale * rotated[1],
			-invScale * rotated[2],
		},
	}
}

func applyRotation(r *mat.Dense, v []float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = r.At(i, 0)*v[0] + r.At(i, 1)*v[1] + r.At(i, 2)*v[2]
	}
	return out
}

// ErrTooFewPoints rejects solves with fewer than three correspondences.
var ErrTooFewPoints = errors.New("at least 3 GCPs are required to solve a Helmert transform")

// ErrCollinear rejects degenerate point sets.
var ErrCollinear = errors.New("GCPs are collinear; provide non-collinear points")

// SolveHelmert estimates the similarity transform mapping model points
// onto world points by SVD of the centered covariance, with determinant
// correction so reflections never leak into the rotation.
func SolveHelmert(model, world [][3]float64) (Transform, error) {
	if len(model) != len(world) {
		return Transform{}, fmt.Errorf("model has %d points, world has %d", len(model), len(world))
	}
	if len(model) < 3 {
		return Transform{}, ErrTooFewPoints
	}

	modelMean := centroid(model)
	worldMean := centroid(world)

	n := len(model)
	centeredModel := mat.NewDense(n, 3, nil)
	centeredWorld := mat.NewDense(n, 3, nil)
	var modelSpread float64
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			cm := model[i][j] - modelMean[j]
			cw := world[i][j] - worldMean[j]
			centeredModel.Set(i, j, cm)
			centeredWorld.Set(i, j, cw)
			modelSpread += cm * cm
		}
	}
	if rank(centeredModel) < 2 {
		return Transform{}, ErrCollinear
	}

	var covariance mat.Dense
	covariance.Mul(centeredModel.T(), centeredWorld)

	var svd mat.SVD
	if !svd.Factorize(&covariance, mat.SVDFull) {
		return Transform{}, errors.New("SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	singular := svd.Values(nil)

	var rotation mat.Dense
	rotation.Mul(&v, u.T())
	if mat.Det(&rotation) < 0 {
		// Flip the axis of least variance.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rotation.Mul(&v, u.T())
	}

	scale := (singular[0] + singular[1] + singular[2]) / modelSpread
	rotatedMean := applyRotation(&rotation, modelMean[:])
	translation := []float64{
		worldMean[0] - scale*rotatedMean[0],
		worldMean[1] - scale*rotatedMean[1],
		worldMean[2] - scale*rotatedMean[2],
	}
	return Transform{Scale: scale, Rotation: &rotation, Translation: translation}, nil
}

func centroid(points [][3]float64) [3]float64 {
	var c [3]float64
	for _, p := range points {
		c[0] += p[0]
		c[1] += p[1]
		c[2] += p[2]
	}
	n := float64(len(points))
	c[0] /= n
	c[1] /= n
	c[2] /= n
	return c
}

func rank(m *mat.Dense) int {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	tolerance := 1e-9 * values[0]
	count := 0
	for _, v := range values {
		if v > tolerance {
			count++
		}
	}
	return count
}

// ResidualReport summarizes per-point registration error in metres.
type ResidualReport struct {
	PerPointM []float64
	RMSEM     float64
	MeanM     float64
	P95M      float64
}

// ComputeResiduals measures the distance between transformed model
// points and their world correspondences.
func ComputeResiduals(t Transform, model, world [][3]float64) ResidualReport {
	errs := make([]float64, len(model))
	var sumSq, sum float64
	for i := range model {
		got := t.Apply(model[i])
		dx := got[0] - world[i][0]
		dy := got[1] - world[i][1]
		dz := got[2] - world[i][2]
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		errs[i] = d
		sumSq += d * d
		sum += d
	}
	n := float64(len(errs))
	return ResidualReport{
		PerPointM: errs,
		RMSEM:     math.Sqrt(sumSq / n),
		MeanM:     sum / n,
		P95M:      Percentile(errs, 95),
	}
}

// Percentile computes the p-th percentile with linear interpolation
// between order statistics.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
