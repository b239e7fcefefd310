// Package importwizard carries the structured-data import placeholder
// module.
package importwizard

import (
	"context"

	"labos/pkg/moduleapi"
)

// Module identity.
const (
	ModuleKey     = "import.wizard.stub"
	ModuleVersion = "0.1.0"
)

// OperationImport is the single operation the wizard exposes.
const OperationImport = "import"

const message = "Data import wizard placeholder."

// Plugin registers the import wizard stub.
type Plugin struct{}

// New constructs an importwizard plugin instance.
func New() Plugin {
	return Plugin{}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "importwizard" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return ModuleVersion }

// Register wires the stub descriptor.
func (Plugin) Register(registry moduleapi.Registry) error {
	return registry.RegisterModule(moduleapi.Descriptor{
		Key:         ModuleKey,
		Version:     ModuleVersion,
		Title:       "Data import wizard stub",
		Description: "Placeholder for structured dataset ingestion.",
		Operations: map[string]moduleapi.Operation{
			OperationImport: {
				Name:    OperationImport,
				Summary: "Record a placeholder import run.",
				Run:     runImport,
			},
		},
	})
}

func runImport(ctx context.Context, params moduleapi.Params) (moduleapi.Result, error) {
	target := "unknown"
	if v, ok := params.String("source"); ok {
		target = v
	}
	sourceType := "unspecified"
	if v, ok := params.String("source_type"); ok {
		sourceType = v
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
			Label: "Imported dataset stub",
			Type:  "table",
			URI:   "data/stubs/import_wizard_output.parquet",
			Metadata: map[string]string{
				"generator":   ModuleKey,
				"source_type": sourceType,
			},
		},
		Audit: map[string]any{
			"action": "simulate-import",
			"phase":  "stub",
			"target": target,
		},
	}, nil
}
