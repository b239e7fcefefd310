package geo

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// WGS-84 ellipsoid constants.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// GCPRecord pairs one model-space point with its world correspondence.
type GCPRecord struct {
	ID    string
	Model [3]float64
	World [3]float64
}

// ENUOrigin anchors a local east-north-up frame at the first geodetic
// ground control point.
type ENUOrigin struct {
	LatDeg float64 `json:"lat"`
	LonDeg float64 `json:"lon"`
	AltM   float64 `json:"alt_m"`

	ecef     [3]float64
	rotation *mat.Dense
}

// GCPSet is a parsed ground-control-point file.
type GCPSet struct {
	Records    []GCPRecord
	WorldFrame string // "local" or "enu"
	ENU        *ENUOrigin
}

// ModelPoints returns the model-space coordinates in file order.
func (s GCPSet) ModelPoints() [][3]float64 {
	out := make([][3]float64, len(s.Records))
	for i, rec := range s.Records {
		out[i] = rec.Model
	}
	return out
}

// WorldPoints returns the world-space coordinates in file order.
func (s GCPSet) WorldPoints() [][3]float64 {
	out := make([][3]float64, len(s.Records))
	for i, rec := range s.Records {
		out[i] = rec.World
	}
	return out
}

func geodeticToECEF(latDeg, lonDeg, altM float64) [3]float64 {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return [3]float64{
		(n + altM) * cosLat * cosLon,
		(n + altM) * cosLat * sinLon,
		(n*(1-wgs84E2) + altM) * sinLat,
	}
}

func enuRotation(latDeg, lonDeg float64) *mat.Dense {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)
	return mat.NewDense(3, 3, []float64{
		-sinLon, cosLon, 0,
		-sinLat * cosLon, -sinLat * sinLon, cosLat,
		cosLat * cosLon, cosLat * sinLon, sinLat,
	})
}

// NewENUOrigin builds the local tangent frame about a geodetic point.
func NewENUOrigin(latDeg, lonDeg, altM float64) *ENUOrigin {
	return &ENUOrigin{
		LatDeg:   latDeg,
		LonDeg:   lonDeg,
		AltM:     altM,
		ecef:     geodeticToECEF(latDeg, lonDeg, altM),
		rotation: enuRotation(latDeg, lonDeg),
	}
}

// ToENU converts a geodetic point to east-north-up metres about the
// origin.
func (o *ENUOrigin) ToENU(latDeg, lonDeg, altM float64) [3]float64 {
	ecef := geodeticToECEF(latDeg, lonDeg, altM)
	diff := []float64{ecef[0] - o.ecef[0], ecef[1] - o.ecef[1], ecef[2] - o.ecef[2]}
	return applyRotation(o.rotation, diff)
}

// LoadGCPs parses a ground-control CSV. Every row needs id and
// model_x/y/z; world coordinates come either from world_x/y/z (local
// frame) or lat/lon/alt_m (converted ECEF -> ENU about the first
// geodetic row).
func LoadGCPs(path string) (GCPSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return GCPSet{}, fmt.Errorf("open gcp file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return GCPSet{}, fmt.Errorf("parse gcp csv: %w", err)
	}
	if len(rows) < 2 {
		return GCPSet{}, fmt.Errorf("gcp file %s is empty", path)
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		header[name] = i
	}
	field := func(row []string, name string) (string, bool) {
		idx, ok := header[name]
		if !ok || idx >= len(row) || row[idx] == "" {
			return "", false
		}
		return row[idx], true
	}
	number := func(row []string, name string) (float64, error) {
		raw, ok := field(row, name)
		if !ok {
			return 0, fmt.Errorf("missing column %s", name)
		}
		var v float64
		if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
			return 0, fmt.Errorf("invalid numeric value for %s: %q", name, raw)
		}
		return v, nil
	}
	has := func(row []string, names ...string) bool {
		for _, name := range names {
			if _, ok := field(row, name); !ok {
				return false
			}
		}
		return true
	}

	set := GCPSet{WorldFrame: "local"}
	for lineNo, row := range rows[1:] {
		id, ok := field(row, "id")
		if !ok || !has(row, "model_x", "model_y", "model_z") {
			return GCPSet{}, fmt.Errorf("gcp row %d must include id, model_x, model_y, model_z", lineNo+2)
		}
		var rec GCPRecord
		rec.ID = id
		for i, name := range []string{"model_x", "model_y", "model_z"} {
			if rec.Model[i], err = number(row, name); err != nil {
				return GCPSet{}, err
			}
		}
		switch {
		case has(row, "world_x", "world_y", "world_z"):
			for i, name := range []string{"world_x", "world_y", "world_z"} {
				if rec.World[i], err = number(row, name); err != nil {
					return GCPSet{}, err
				}
			}
			set.WorldFrame = "local"
		case has(row, "lat", "lon", "alt_m"):
			lat, err := number(row, "lat")
			if err != nil {
				return GCPSet{}, err
			}
			lon, err := number(row, "lon")
			if err != nil {
				return GCPSet{}, err
			}
			alt, err := number(row, "alt_m")
			if err != nil {
				return GCPSet{}, err
			}
			if set.ENU == nil {
				set.ENU = NewENUOrigin(lat, lon, alt)
			}
			rec.World = set.ENU.ToENU(lat, lon, alt)
			set.WorldFrame = "enu"
		default:
			return GCPSet{}, fmt.Errorf("gcp row %d must include either world_x/y/z or lat/lon/alt_m", lineNo+2)
		}
		set.Records = append(set.Records, rec)
	}
	return set, nil
}
