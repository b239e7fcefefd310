// Package spectroscopy provides the IR spectrum analysis module. The
// analysis annotates peaks against a wavenumber correlation table and is
// deterministic for identical inputs.
package spectroscopy

import (
	"context"
	"strconv"

	"labos/pkg/moduleapi"
)

// Module identity.
const (
	ModuleKey     = "spectroscopy.ir_analysis"
	ModuleVersion = "0.1.0"
)

// Plugin registers the IR analysis module.
type Plugin struct{}

// New constructs a spectroscopy plugin instance.
func New() Plugin {
	return Plugin{}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "spectroscopy" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return ModuleVersion }

// Register wires the IR analysis descriptor.
func (Plugin) Register(registry moduleapi.Registry) error {
	return registry.RegisterModule(moduleapi.Descriptor{
		Key:         ModuleKey,
		Version:     ModuleVersion,
		Title:       "IR spectroscopy analysis",
		Description: "Annotates IR spectra against the wavenumber correlation table.",
		Operations: map[string]moduleapi.Operation{
			"analyze": {
				Name:    "analyze",
				Summary: "Detect peaks and assign functional groups.",
				Run:     analyze,
			},
		},
	})
}

func analyze(ctx context.Context, params moduleapi.Params) (moduleapi.Result, error) {
	spectrum, err := parseSpectrum(params)
	if err != nil {
		return moduleapi.Result{}, err
	}

	threshold := defaultThreshold
	if v, ok := params.Float("threshold"); ok {
		threshold = v
	}
	detectPeaks := true
	if v, ok := params["detect_peaks"].(bool); ok {
		detectPeaks = v
	}

	if len(spectrum) == 0 {
		return moduleapi.Result{
			Status: "ok",
			Data: map[string]any{
				"peaks":                    []Peak{},
				"functional_group_summary": map[string][]float64{},
				"notes":                    []string{"empty spectrum provided"},
			},
		}, nil
	}

	peaks := analyzeSpectrum(spectrum, threshold, detectPeaks)
	summary := summarizeGroups(peaks)
	notes := interpretationNotes(peaks, threshold)

	return moduleapi.Result{
		Status: "ok",
		Data: map[string]any{
			"peaks":                    peaks,
			"functional_group_summary": summary,
			"notes":                    notes,
		},
		Dataset: &moduleapi.DatasetPayload{
			Label: "IR peak annotations",
			Type:  "analysis",
			Tags:  []string{"spectroscopy", "ir"},
			Metadata: map[string]string{
				"peak_count": strconv.Itoa(len(peaks)),
			},
		},
		Audit: map[string]any{
			"peak_count": len(peaks),
			"threshold":  threshold,
		},
	}, nil
}
