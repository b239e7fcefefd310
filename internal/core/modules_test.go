package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"labos/pkg/domain"
	"labos/pkg/moduleapi"
)

func echoDescriptor(version string) moduleapi.Descriptor {
	return moduleapi.Descriptor{
		Key:     "demo.echo",
		Version: version,
		Title:   "Echo",
		Operations: map[string]moduleapi.Operation{
			"compute": {
				Name:    "compute",
				Summary: "returns its params and the descriptor version",
				Run: func(_ context.Context, params moduleapi.Params) (moduleapi.Result, error) {
					return moduleapi.Result{
						Status: "ok",
						Data:   map[string]any{"params": map[string]any(params), "version": version},
					}, nil
				},
			},
		},
	}
}

func TestModuleRegistryResolvesNewestVersion(t *testing.T) {
	reg := NewModuleRegistry()
	for _, version := range []string{"0.1.0", "1.2.0", "0.9.5"} {
		if err := reg.Register(echoDescriptor(version)); err != nil {
			t.Fatalf("register %s: %v", version, err)
		}
	}

	descriptor, ok := reg.Resolve("demo.echo")
	if !ok {
		t.Fatalf("expected demo.echo to resolve")
	}
	if descriptor.Version != "1.2.0" {
		t.Fatalf("expected newest version 1.2.0, got %s", descriptor.Version)
	}

	if _, ok := reg.Resolve("demo.missing"); ok {
		t.Fatalf("unknown key must not resolve")
	}
}

func TestModuleRegistryResolveVersionConstraint(t *testing.T) {
	reg := NewModuleRegistry()
	for _, version := range []string{"0.1.0", "0.9.5", "1.2.0"} {
		if err := reg.Register(echoDescriptor(version)); err != nil {
			t.Fatalf("register %s: %v", version, err)
		}
	}

	descriptor, err := reg.ResolveVersion("demo.echo", "<1.0.0")
	if err != nil {
		t.Fatalf("resolve constraint: %v", err)
	}
	if descriptor.Version != "0.9.5" {
		t.Fatalf("expected 0.9.5 under <1.0.0, got %s", descriptor.Version)
	}

	if _, err := reg.ResolveVersion("demo.echo", ">=2.0.0"); err == nil {
		t.Fatalf("unsatisfiable constraint must fail")
	} else {
		var nf domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %T: %v", err, err)
		}
	}

	if _, err := reg.ResolveVersion("demo.echo", "not-a-range"); err == nil {
		t.Fatalf("invalid constraint must fail")
	}
}

func TestModuleRegistryRejectsDuplicatesAndBadVersions(t *testing.T) {
	reg := NewModuleRegistry()
	if err := reg.Register(echoDescriptor("0.1.0")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(echoDescriptor("0.1.0")); err == nil {
		t.Fatalf("duplicate key@version must be rejected")
	}

	bad := echoDescriptor("not-semver")
	if err := reg.Register(bad); err == nil {
		t.Fatalf("non-semver version must be rejected")
	}

	empty := moduleapi.Descriptor{Key: "demo.empty", Version: "0.1.0"}
	if err := reg.Register(empty); err == nil {
		t.Fatalf("descriptor without operations must be rejected")
	}
}

func TestModuleRegistryListSortedByKeyThenVersion(t *testing.T) {
	reg := NewModuleRegistry()
	other := echoDescriptor("0.1.0")
	other.Key = "alpha.first"
	if err := reg.Register(echoDescriptor("0.2.0")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(echoDescriptor("0.1.0")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(other); err != nil {
		t.Fatalf("register: %v", err)
	}

	list := reg.List()
	got := make([]string, 0, len(list))
	for _, d := range list {
		got = append(got, d.Slug())
	}
	want := []string{"alpha.first@0.1.0", "demo.echo@0.1.0", "demo.echo@0.2.0"}
	if len(got) != len(want) {
		t.Fatalf("expected %d descriptors, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	keys := reg.Keys()
	if len(keys) != 2 || keys[0] != "alpha.first" || keys[1] != "demo.echo" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestModuleRegistryRunDispatch(t *testing.T) {
	reg := NewModuleRegistry()
	if err := reg.Register(echoDescriptor("0.1.0")); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := reg.Run(context.Background(), "demo.echo", "", map[string]any{"value": 42})
	if err != nil {
		t.Fatalf("run with default operation: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %q", result.Status)
	}

	if _, err := reg.Run(context.Background(), "demo.missing", "compute", nil); err == nil {
		t.Fatalf("unknown module must fail")
	} else {
		var nf domain.NotFoundError
		if !errors.As(err, &nf) || nf.Entity != domain.EntityModule {
			t.Fatalf("expected module NotFoundError, got %v", err)
		}
	}

	if _, err := reg.Run(context.Background(), "demo.echo", "transmute", nil); err == nil {
		t.Fatalf("unknown operation must fail")
	} else {
		var nf domain.NotFoundError
		if !errors.As(err, &nf) || nf.Entity != domain.EntityModuleOperation {
			t.Fatalf("expected operation NotFoundError, got %v", err)
		}
	}
}

func TestModuleRegistryRunWrapsFailuresAndPanics(t *testing.T) {
	reg := NewModuleRegistry()
	failing := moduleapi.Descriptor{
		Key:     "demo.broken",
		Version: "0.1.0",
		Operations: map[string]moduleapi.Operation{
			"compute": {Name: "compute", Run: func(context.Context, moduleapi.Params) (moduleapi.Result, error) {
				return moduleapi.Result{}, fmt.Errorf("reactor offline")
			}},
			"explode": {Name: "explode", Run: func(context.Context, moduleapi.Params) (moduleapi.Result, error) {
				panic("boom")
			}},
		},
	}
	if err := reg.Register(failing); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := reg.Run(context.Background(), "demo.broken", "compute", nil)
	var execErr domain.ModuleExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ModuleExecutionError, got %T: %v", err, err)
	}
	if execErr.Module != "demo.broken" || execErr.Operation != "compute" {
		t.Fatalf("unexpected error context: %+v", execErr)
	}

	_, err = reg.Run(context.Background(), "demo.broken", "explode", nil)
	if !errors.As(err, &execErr) {
		t.Fatalf("expected panic to surface as ModuleExecutionError, got %T: %v", err, err)
	}
}
