package anchor

import (
	"math"
	"sort"
)

// GateConfig bounds the reprojection-error evidence required before an
// anchor may be applied.
type GateConfig struct {
	MinFramesWithPose  int
	MaxMeanReprojErrPx float64
	MaxP95ReprojErrPx  float64
}

// DefaultGateConfig is the stock gate thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinFramesWithPose:  10,
		MaxMeanReprojErrPx: 2.0,
		MaxP95ReprojErrPx:  4.0,
	}
}

// GateStats summarizes the filtered reprojection errors. The error
// fields are nil when no frames survive filtering, which also keeps the
// struct JSON-serializable (no infinities).
type GateStats struct {
	TotalFrames     int      `json:"total_frames"`
	KeptFrames      int      `json:"kept_frames"`
	MeanReprojErrPx *float64 `json:"mean_reproj_err_px"`
	P95ReprojErrPx  *float64 `json:"p95_reproj_err_px"`
	MedianReprojErr *float64 `json:"median_reproj_err_px"`
	MADReprojErrPx  *float64 `json:"mad_reproj_err_px"`
}

// GateResult is the gate verdict plus the reasons for any failure.
type GateResult struct {
	Passed         bool
	FailureReasons []string
	Stats          GateStats
}

const madThreshold = 3.5

// madFilter drops outliers by modified z-score over the median absolute
// deviation. A zero MAD keeps every value.
func madFilter(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	if mad == 0 {
		return values
	}
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(0.6745*(v-med)/mad) <= madThreshold {
			kept = append(kept, v)
		}
	}
	return kept
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func percentile(values []float64, p float64) float64 {
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

// EvaluateGates applies the MAD outlier filter and checks the configured
// bounds over the surviving frames.
func EvaluateGates(reprojErrors []float64, cfg GateConfig) GateResult {
	filtered := madFilter(reprojErrors)
	stats := GateStats{
		TotalFrames: len(reprojErrors),
		KeptFrames:  len(filtered),
	}
	mean := math.Inf(1)
	p95 := math.Inf(1)
	if len(filtered) > 0 {
		var sum float64
		for _, v := range filtered {
			sum += v
		}
		mean = sum / float64(len(filtered))
		p95 = percentile(filtered, 95)
		med := median(filtered)
		deviations := make([]float64, len(filtered))
		for i, v := range filtered {
			deviations[i] = math.Abs(v - med)
		}
		mad := median(deviations)
		stats.MeanReprojErrPx = &mean
		stats.P95ReprojErrPx = &p95
		stats.MedianReprojErr = &med
		stats.MADReprojErrPx = &mad
	}

	var failures []string
	if len(filtered) < cfg.MinFramesWithPose {
		failures = append(failures, "min_frames_with_pose")
	}
	if mean > cfg.MaxMeanReprojErrPx {
		failures = append(failures, "max_mean_reproj_err_px")
	}
	if p95 > cfg.MaxP95ReprojErrPx {
		failures = append(failures, "max_p95_reproj_err_px")
	}
	return GateResult{Passed: len(failures) == 0, FailureReasons: failures, Stats: stats}
}
