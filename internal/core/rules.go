package core

import (
	"encoding/json"

	"labos/pkg/domain"
)

// NewDefaultRulesEngine returns an engine preloaded with the built-in
// registry rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(JobExperimentExistsRule())
	engine.Register(DatasetURIPresentRule())
	engine.Register(ExperimentStatusTransitionRule())
	return engine
}

// decodeChangePayload unmarshals a change snapshot into a concrete record
// type. It returns false for undefined or malformed payloads.
func decodeChangePayload[T any](payload domain.ChangePayload) (T, bool) {
	var out T
	raw := payload.Raw()
	if len(raw) == 0 {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}
