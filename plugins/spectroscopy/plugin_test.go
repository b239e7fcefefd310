package spectroscopy

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"labos/pkg/moduleapi"
)

type capturingRegistry struct {
	descriptors []moduleapi.Descriptor
	rules       []moduleapi.Rule
}

func (r *capturingRegistry) RegisterModule(d moduleapi.Descriptor) error {
	r.descriptors = append(r.descriptors, d)
	return nil
}

func (r *capturingRegistry) RegisterRule(rule moduleapi.Rule) {
	r.rules = append(r.rules, rule)
}

func TestPluginRegistersIRModule(t *testing.T) {
	reg := &capturingRegistry{}
	if err := New().Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(reg.descriptors) != 1 {
		t.Fatalf("descriptors = %d, want 1", len(reg.descriptors))
	}
	d := reg.descriptors[0]
	if d.Key != "spectroscopy.ir_analysis" || d.Version != "0.1.0" {
		t.Fatalf("identity = %s@%s", d.Key, d.Version)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := d.Operations["analyze"]; !ok {
		t.Fatalf("operations = %v, want analyze", d.Operations)
	}
}

func TestAnalyzeRequiresSpectrum(t *testing.T) {
	_, err := analyze(context.Background(), moduleapi.Params{})
	if err == nil || !strings.Contains(err.Error(), "spectrum parameter required") {
		t.Fatalf("err = %v", err)
	}
	_, err = analyze(context.Background(), moduleapi.Params{"spectrum": "not-a-list"})
	if err == nil {
		t.Fatal("string spectrum accepted")
	}
	_, err = analyze(context.Background(), moduleapi.Params{"spectrum": []any{[]any{1720.0}}})
	if err == nil {
		t.Fatal("one-element pair accepted")
	}
}

func TestAnalyzeEmptySpectrum(t *testing.T) {
	res, err := analyze(context.Background(), moduleapi.Params{"spectrum": []any{}})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
	notes, ok := res.Data["notes"].([]string)
	if !ok || len(notes) != 1 || !strings.Contains(notes[0], "empty spectrum") {
		t.Fatalf("notes = %v", res.Data["notes"])
	}
}

func TestAnalyzePairListSpectrum(t *testing.T) {
	params := moduleapi.Params{
		"spectrum": []any{
			[]any{1500.0, 0.1},
			[]any{1650.0, 0.3},
			[]any{1700.0, 0.5},
			[]any{1720.0, 0.9},
			[]any{1740.0, 0.5},
			[]any{1800.0, 0.2},
		},
	}
	res, err := analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	peaks, ok := res.Data["peaks"].([]Peak)
	if !ok || len(peaks) != 1 || peaks[0].Wavenumber != 1720 {
		t.Fatalf("peaks = %v", res.Data["peaks"])
	}
	if res.Dataset == nil || res.Dataset.Label != "IR peak annotations" {
		t.Fatalf("dataset = %+v", res.Dataset)
	}
	if res.Dataset.Metadata["peak_count"] != "1" {
		t.Fatalf("peak_count = %q", res.Dataset.Metadata["peak_count"])
	}
	if res.Audit["peak_count"] != 1 {
		t.Fatalf("audit = %v", res.Audit)
	}
}

func TestAnalyzeColumnMappingSpectrum(t *testing.T) {
	params := moduleapi.Params{
		"spectrum": map[string]any{
			"wavenumber": []any{1700.0, 1720.0, 1740.0},
			"absorbance": []any{0.2, 0.8, 0.3},
		},
		"threshold":    0.5,
		"detect_peaks": false,
	}
	res, err := analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	peaks := res.Data["peaks"].([]Peak)
	if len(peaks) != 1 || peaks[0].Wavenumber != 1720 {
		t.Fatalf("peaks = %+v", peaks)
	}
}

func TestAnalyzeRejectsRaggedColumns(t *testing.T) {
	params := moduleapi.Params{
		"spectrum": map[string]any{
			"wavenumber": []any{1700.0, 1720.0},
			"absorbance": []any{0.2},
		},
	}
	if _, err := analyze(context.Background(), params); err == nil {
		t.Fatal("ragged columns accepted")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	params := moduleapi.Params{
		"spectrum": []any{
			[]any{700.0, 0.7},
			[]any{1600.0, 0.6},
			[]any{1700.0, 0.4},
			[]any{1720.0, 0.9},
			[]any{1740.0, 0.5},
			[]any{3050.0, 0.5},
			[]any{3400.0, 0.85},
		},
		"detect_peaks": false,
	}
	first, err := analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze again: %v", err)
	}
	a, err := json.Marshal(first.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(second.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("runs diverged:\n%s\n%s", a, b)
	}
	if !reflect.DeepEqual(first.Audit, second.Audit) {
		t.Fatalf("audit diverged: %v vs %v", first.Audit, second.Audit)
	}
}
