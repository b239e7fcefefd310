// Package eims carries the EI-MS fragmentation placeholder module. The
// stub returns a fixed payload so workflows and UI surfaces can be wired
// before the chemistry lands.
package eims

import (
	"context"

	"labos/pkg/moduleapi"
)

// Module identity.
const (
	ModuleKey     = "eims.fragmentation.stub"
	ModuleVersion = "0.1.0"
)

const message = "EI-MS fragmentation engine placeholder (no chemistry yet)."

// Plugin registers the fragmentation stub.
type Plugin struct{}

// New constructs an eims plugin instance.
func New() Plugin {
	return Plugin{}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "eims" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return ModuleVersion }

// Register wires the stub descriptor.
func (Plugin) Register(registry moduleapi.Registry) error {
	return registry.RegisterModule(moduleapi.Descriptor{
		Key:         ModuleKey,
		Version:     ModuleVersion,
		Title:       "EI-MS fragmentation stub",
		Description: "Placeholder fragmentation engine returning metadata only.",
		Operations: map[string]moduleapi.Operation{
			moduleapi.DefaultOperation: {
				Name:    moduleapi.DefaultOperation,
				Summary: "Record a placeholder fragmentation run.",
				Run:     compute,
			},
		},
	})
}

func compute(ctx context.Context, params moduleapi.Params) (moduleapi.Result, error) {
	target := "unknown"
	if v, ok := params.String("experiment_id"); ok {
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
			Label: "EI-MS preliminary fragments bundle",
			Type:  "spectrum",
			URI:   "data/stubs/eims_fragments.json",
			Metadata: map[string]string{
				"generator": ModuleKey,
				"source":    "placeholder",
			},
		},
		Audit: map[string]any{
			"action": "simulate-fragmentation",
			"phase":  "stub",
			"target": target,
		},
	}, nil
}
