// Package moduleapi provides the stable surface module plugins compile
// against: descriptors for versioned modules with named operations, the
// parameter and result envelopes those operations exchange, and re-exports of
// the domain concepts rules need.
package moduleapi

import (
	"context"
	"fmt"
)

// DefaultOperation is assumed when a caller omits the operation name.
const DefaultOperation = "compute"

// Params carries the operation inputs as loosely typed JSON values.
type Params map[string]any

// String returns the string value under key.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the numeric value under key. JSON numbers decode as float64;
// integer literals placed directly into Params are widened.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Slice returns the list value under key.
func (p Params) Slice(key string) ([]any, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// StringSlice returns the list under key with every element coerced to string.
func (p Params) StringSlice(key string) ([]string, bool) {
	raw, ok := p.Slice(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// DatasetPayload is an optional dataset the workflow lifts into a DatasetRef
// record after a successful run.
type DatasetPayload struct {
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	URI      string            `json:"uri,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the envelope every operation returns. Data must be deterministic
// for identical Params; Dataset and Audit are optional structured payloads.
type Result struct {
	Status  string          `json:"status"`
	Data    map[string]any  `json:"data,omitempty"`
	Dataset *DatasetPayload `json:"dataset,omitempty"`
	Audit   map[string]any  `json:"audit,omitempty"`
}

// RunFunc executes one operation.
type RunFunc func(ctx context.Context, params Params) (Result, error)

// Operation is a named, deterministic entry point on a module.
type Operation struct {
	Name    string
	Summary string
	Run     RunFunc
}

// Descriptor declares a module: an addressable key, a semantic version, and
// the operations it exposes.
type Descriptor struct {
	Key         string
	Version     string
	Title       string
	Description string
	Operations  map[string]Operation
}

// Validate checks the descriptor is registrable.
func (d Descriptor) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("module key required")
	}
	if d.Version == "" {
		return fmt.Errorf("module %s: version required", d.Key)
	}
	if len(d.Operations) == 0 {
		return fmt.Errorf("module %s: at least one operation required", d.Key)
	}
	for name, op := range d.Operations {
		if op.Run == nil {
			return fmt.Errorf("module %s: operation %s has no run function", d.Key, name)
		}
	}
	return nil
}

// Slug returns the key@version identity used for duplicate detection.
func (d Descriptor) Slug() string {
	return d.Key + "@" + d.Version
}
