package moduleapi

import (
	"context"
	"testing"
)

func TestParamsAccessors(t *testing.T) {
	params := Params{
		"name":   "benzene",
		"peak":   1715.0,
		"count":  3,
		"tags":   []any{"ir", "qc"},
		"mixed":  []any{"a", 1},
		"object": map[string]any{},
	}

	if v, ok := params.String("name"); !ok || v != "benzene" {
		t.Fatalf("string accessor failed: %q %v", v, ok)
	}
	if _, ok := params.String("object"); ok {
		t.Fatalf("string accessor should reject non-strings")
	}
	if v, ok := params.Float("peak"); !ok || v != 1715.0 {
		t.Fatalf("float accessor failed: %v %v", v, ok)
	}
	if v, ok := params.Float("count"); !ok || v != 3 {
		t.Fatalf("float accessor should widen ints: %v %v", v, ok)
	}
	if _, ok := params.Float("name"); ok {
		t.Fatalf("float accessor should reject strings")
	}
	if v, ok := params.StringSlice("tags"); !ok || len(v) != 2 || v[0] != "ir" {
		t.Fatalf("string slice accessor failed: %v %v", v, ok)
	}
	if _, ok := params.StringSlice("mixed"); ok {
		t.Fatalf("string slice accessor should reject mixed elements")
	}
	if _, ok := params.Slice("missing"); ok {
		t.Fatalf("slice accessor should miss absent keys")
	}
}

func TestDescriptorValidate(t *testing.T) {
	run := func(context.Context, Params) (Result, error) { return Result{Status: "ok"}, nil }

	valid := Descriptor{
		Key:        "spectroscopy.ir_analysis",
		Version:    "0.1.0",
		Operations: map[string]Operation{"analyze": {Name: "analyze", Run: run}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
	if valid.Slug() != "spectroscopy.ir_analysis@0.1.0" {
		t.Fatalf("unexpected slug %s", valid.Slug())
	}

	cases := []Descriptor{
		{},
		{Key: "m"},
		{Key: "m", Version: "0.1.0"},
		{Key: "m", Version: "0.1.0", Operations: map[string]Operation{"op": {Name: "op"}}},
	}
	for i, d := range cases {
		if err := d.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, d)
		}
	}
}
