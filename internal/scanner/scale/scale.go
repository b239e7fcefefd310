// Package scale applies the capture-regime scale constraint policy:
// which scale factor a reconstruction may claim, where it came from, and
// how much to trust it.
package scale

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"labos/internal/scanner/ply"
)

// Regime classifies the capture scale of a scan.
type Regime string

const (
	RegimeSmallObject  Regime = "small_object"
	RegimeRoomBuilding Regime = "room_building"
	RegimeAerial       Regime = "aerial"
)

// Regimes lists the accepted regime values.
var Regimes = []Regime{RegimeSmallObject, RegimeRoomBuilding, RegimeAerial}

// ParseRegime normalizes and validates a regime string.
func ParseRegime(value string) (Regime, error) {
	normalized := Regime(strings.ToLower(strings.TrimSpace(value)))
	for _, regime := range Regimes {
		if regime == normalized {
			return regime, nil
		}
	}
	return "", fmt.Errorf("unknown scan regime: %s", value)
}

// Range is an optional metric interval; nil ends are unbounded.
type Range struct {
	MinM *float64
	MaxM *float64
}

// defaultExpectedSize supplies the per-regime heuristic when the
// operator gives no expected size.
func defaultExpectedSize(regime Regime) Range {
	span := func(lo, hi float64) Range { return Range{MinM: &lo, MaxM: &hi} }
	switch regime {
	case RegimeSmallObject:
		return span(0.05, 2)
	case RegimeAerial:
		return span(50, 5000)
	default:
		return span(2, 100)
	}
}

// RefPair indexes two reconstructed points with known real distance.
type RefPair struct {
	I, J int
}

// ParseRefPair parses the --ref-pair "i:j" flag format.
func ParseRefPair(value string) (RefPair, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return RefPair{}, fmt.Errorf("ref pair must be i:j, got %q", value)
	}
	i, errI := strconv.Atoi(strings.TrimSpace(parts[0]))
	j, errJ := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errI != nil || errJ != nil || i < 0 || j < 0 || i == j {
		return RefPair{}, fmt.Errorf("ref pair must name two distinct non-negative indices, got %q", value)
	}
	return RefPair{I: i, J: j}, nil
}

// Policy is the operator-facing scale configuration for one run.
type Policy struct {
	Regime         Regime
	ExpectedSizeM  *Range
	HardBoundsM    *Range
	RefPair        *RefPair
	RefDistanceM   *float64
	RefScaleFactor *float64
	AllowWeakScale bool
	AllowAutoscale bool
}

// Scale factor sources, strongest first.
const (
	SourceAnchor        = "anchor"
	SourceReferencePair = "reference_pair"
	SourceFactor        = "explicit_factor"
	SourceAutoscale     = "autoscale"
	SourceNone          = "none"
)

// Confidence levels attached to the applied factor.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Outcome records the applied factor and its provenance.
type Outcome struct {
	Regime        Regime   `json:"regime"`
	AppliedFactor float64  `json:"applied_factor"`
	Source        string   `json:"source"`
	Confidence    string   `json:"confidence"`
	ExtentM       *float64 `json:"extent_m"`
	Warnings      []string `json:"warnings"`
}

// ErrWeakScale rejects small-object scans with no scale reference.
var ErrWeakScale = errors.New(
	"small_object scans need a scale reference (anchor, --ref-pair/--ref-distance-m, or --ref-scale-factor); " +
		"pass --allow-weak-scale to proceed without one")

// BoundsError reports a scaled extent outside the hard bounds.
type BoundsError struct {
	ExtentM float64
	Bounds  Range
}

func (e *BoundsError) Error() string {
	lo, hi := "-inf", "+inf"
	if e.Bounds.MinM != nil {
		lo = strconv.FormatFloat(*e.Bounds.MinM, 'g', -1, 64)
	}
	if e.Bounds.MaxM != nil {
		hi = strconv.FormatFloat(*e.Bounds.MaxM, 'g', -1, 64)
	}
	return fmt.Sprintf(
		"scaled extent %.3f m violates hard bounds [%s, %s] m; fix the scale reference or pass --allow-autoscale",
		e.ExtentM, lo, hi)
}

// Extent is the bounding-box diagonal of the point cloud, the size
// estimate the policy reasons about.
func Extent(points []ply.Point) float64 {
	if len(points) == 0 {
		return 0
	}
	min := points[0]
	max := points[0]
	for _, p := range points[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	dx := max.X - min.X
	dy := max.Y - min.Y
	dz := max.Z - min.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Apply resolves the scale factor for a reconstruction. Precedence:
// anchor-provided scale, then a measured reference pair, then an
// explicit factor, then (only with AllowAutoscale) autoscaling the
// extent into the expected size range. Hard-bound violations fail
// unless autoscale may absorb them.
func Apply(points []ply.Point, anchorScale *float64, policy Policy) (Outcome, error) {
	out := Outcome{Regime: policy.Regime, AppliedFactor: 1, Source: SourceNone, Confidence: ConfidenceLow, Warnings: []string{}}

	factor := 1.0
	source := SourceNone
	switch {
	case anchorScale != nil:
		factor = *anchorScale
		source = SourceAnchor
	case policy.RefPair != nil && policy.RefDistanceM != nil:
		pair := *policy.RefPair
		if pair.I >= len(points) || pair.J >= len(points) {
			return out, fmt.Errorf("ref pair %d:%d out of range for %d points", pair.I, pair.J, len(points))
		}
		modelDist := distance(points[pair.I], points[pair.J])
		if modelDist == 0 {
			return out, fmt.Errorf("ref pair %d:%d are coincident points", pair.I, pair.J)
		}
		factor = *policy.RefDistanceM / modelDist
		source = SourceReferencePair
	case policy.RefScaleFactor != nil:
		factor = *policy.RefScaleFactor
		source = SourceFactor
		out.Warnings = append(out.Warnings, "user-provided scale factor override in use; verify metrology separately")
	}

	if policy.Regime == RegimeSmallObject && source == SourceNone {
		if !policy.AllowWeakScale {
			return out, ErrWeakScale
		}
		out.Warnings = append(out.Warnings, "small_object scan proceeding without a scale reference")
	}

	expected := policy.ExpectedSizeM
	if expected == nil {
		r := defaultExpectedSize(policy.Regime)
		expected = &r
	}

	var extentPtr *float64
	scaledExtent := 0.0
	if len(points) > 0 {
		scaledExtent = Extent(points) * factor
		extentPtr = &scaledExtent
	}

	if extentPtr != nil && source == SourceNone && policy.AllowAutoscale {
		if target, ok := autoscaleTarget(scaledExtent, *expected); ok {
			factor *= target / scaledExtent
			scaledExtent = target
			source = SourceAutoscale
			out.Warnings = append(out.Warnings, "autoscaled extent into the expected size range")
		}
	}

	if extentPtr != nil && policy.HardBoundsM != nil && violates(scaledExtent, *policy.HardBoundsM) {
		if policy.AllowAutoscale {
			if target, ok := autoscaleTarget(scaledExtent, *expected); ok && !violates(target, *policy.HardBoundsM) {
				factor *= target / scaledExtent
				scaledExtent = target
				source = SourceAutoscale
				out.Warnings = append(out.Warnings, "autoscaled extent to satisfy hard bounds")
			} else {
				return out, &BoundsError{ExtentM: scaledExtent, Bounds: *policy.HardBoundsM}
			}
		} else {
			return out, &BoundsError{ExtentM: scaledExtent, Bounds: *policy.HardBoundsM}
		}
	}

	out.AppliedFactor = factor
	out.Source = source
	out.ExtentM = extentPtr
	switch source {
	case SourceAnchor:
		out.Confidence = ConfidenceHigh
	case SourceReferencePair, SourceFactor:
		out.Confidence = ConfidenceMedium
	default:
		out.Confidence = ConfidenceLow
	}
	return out, nil
}

// autoscaleTarget picks the nearest edge of the expected range when the
// extent falls outside it.
func autoscaleTarget(extent float64, expected Range) (float64, bool) {
	if extent <= 0 {
		return 0, false
	}
	if expected.MinM != nil && extent < *expected.MinM {
		return *expected.MinM, true
	}
	if expected.MaxM != nil && extent > *expected.MaxM {
		return *expected.MaxM, true
	}
	return 0, false
}

func violates(extent float64, bounds Range) bool {
	if bounds.MinM != nil && extent < *bounds.MinM {
		return true
	}
	if bounds.MaxM != nil && extent > *bounds.MaxM {
		return true
	}
	return false
}

func distance(a, b ply.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ScalePoints returns a copy of points with the factor applied.
func ScalePoints(points []ply.Point, factor float64) []ply.Point {
	out := make([]ply.Point, len(points))
	for i, p := range points {
		out[i] = ply.Point{X: p.X * factor, Y: p.Y * factor, Z: p.Z * factor}
	}
	return out
}
