package pipeline

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	chartopts "github.com/go-echarts/go-echarts/v2/opts"
)

const histogramBins = 10

// RenderMetricsHTML writes a reprojection-error histogram to path.
// Empty inputs render an empty chart rather than failing.
func RenderMetricsHTML(path string, reprojErrorsPx []float64) error {
	labels, counts := histogram(reprojErrorsPx, histogramBins)
	data := make([]chartopts.BarData, len(counts))
	for i, count := range counts {
		data[i] = chartopts.BarData{Value: count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(chartopts.Title{
			Title:    "Reprojection error",
			Subtitle: fmt.Sprintf("%d points", len(reprojErrorsPx)),
		}),
		charts.WithTooltipOpts(chartopts.Tooltip{Show: chartopts.Bool(true)}),
		charts.WithXAxisOpts(chartopts.XAxis{Name: "error (px)"}),
		charts.WithYAxisOpts(chartopts.YAxis{Name: "points"}),
	)
	bar.SetXAxis(labels).AddSeries("points", data)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	if err := bar.Render(f); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func histogram(values []float64, bins int) ([]string, []int) {
	labels := make([]string, bins)
	counts := make([]int, bins)
	if len(values) == 0 {
		for i := range labels {
			labels[i] = "-"
		}
		return labels, counts
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	width := (max - min) / float64(bins)
	if width == 0 {
		width = 1
	}
	for i := range labels {
		labels[i] = fmt.Sprintf("%.2f", min+width*(float64(i)+0.5))
	}
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return labels, counts
}
