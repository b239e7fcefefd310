// Package pchem carries the physical chemistry calorimetry placeholder
// module.
package pchem

import (
	"context"

	"labos/pkg/moduleapi"
)

// Module identity.
const (
	ModuleKey     = "pchem.calorimetry.stub"
	ModuleVersion = "0.1.0"
)

const message = "P-Chem calorimetry calculator placeholder."

// Plugin registers the calorimetry stub.
type Plugin struct{}

// New constructs a pchem plugin instance.
func New() Plugin {
	return Plugin{}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "pchem" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return ModuleVersion }

// Register wires the stub descriptor.
func (Plugin) Register(registry moduleapi.Registry) error {
	return registry.RegisterModule(moduleapi.Descriptor{
		Key:         ModuleKey,
		Version:     ModuleVersion,
		Title:       "Calorimetry stub",
		Description: "Placeholder calorimetry calculator returning metadata only.",
		Operations: map[string]moduleapi.Operation{
			moduleapi.DefaultOperation: {
				Name:    moduleapi.DefaultOperation,
				Summary: "Record a placeholder calorimetry run.",
				Run:     compute,
			},
		},
	})
}

func compute(ctx context.Context, params moduleapi.Params) (moduleapi.Result, error) {
	target := "unknown"
	if v, ok := params.String("sample_id"); ok {
		target = v
	} else if v, ok := params.String("experiment_id"); ok {
		target = v
	}
	echo := make(map[string]any, len(params))
	for k, v := range params {
		echo[k] = v
	}
	return moduleapi.Result{
		Status: "not-implemented",
		Data: map[string]any{
			"module":  ModuleKey,
			"message": message,
			"inputs":  echo,
		},
		Dataset: &moduleapi.DatasetPayload{
			Label: "Calorimetry placeholder dataset",
			Type:  "timeseries",
			URI:   "data/stubs/pchem_calorimetry.csv",
			Metadata: map[string]string{
				"generator": ModuleKey,
				"units":     "kJ/mol (placeholder)",
			},
		},
		Audit: map[string]any{
			"action": "simulate-calorimetry",
			"phase":  "stub",
			"target": target,
		},
	}, nil
}
