package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"labos/internal/artifact"
	"labos/internal/audit"
	"labos/internal/core"
	artifacts3 "labos/internal/infra/artifact/s3"
	"labos/plugins/eims"
	"labos/plugins/importwizard"
	"labos/plugins/pchem"
	"labos/plugins/spectroscopy"
)

// runtime bundles the wired service and its audit recorder for one CLI
// invocation.
type runtime struct {
	service *core.Service
	audit   *audit.Logger
	metrics *core.PrometheusMetricsRecorder
}

// openRuntime resolves storage and artifact backends from the loaded
// config, opens the audit chain, and installs the built-in plugins.
func openRuntime(ctx context.Context) (*runtime, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	recorder, err := audit.NewLogger(cfg.AuditDir)
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStoreWith(core.StorageSettings{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		DataDir:     cfg.DataDir,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine(), logger)
	if err != nil {
		return nil, err
	}
	artifacts, err := core.OpenArtifactStoreWith(ctx, core.ArtifactSettings{
		Driver: artifact.Driver(cfg.Artifact.Driver),
		Dir:    cfg.Artifact.Dir,
		S3: artifacts3.Config{
			Region:   cfg.Artifact.S3.Region,
			Bucket:   cfg.Artifact.S3.Bucket,
			Endpoint: cfg.Artifact.S3.Endpoint,
		},
	})
	if err != nil {
		return nil, err
	}

	metrics := core.NewPrometheusMetricsRecorder()
	service := core.NewService(store,
		core.WithAuditRecorder(recorder),
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithArtifacts(artifacts),
	)
	if err := installPlugins(service); err != nil {
		return nil, err
	}
	return &runtime{service: service, audit: recorder, metrics: metrics}, nil
}

func installPlugins(service *core.Service) error {
	if _, err := service.InstallPlugin(eims.New()); err != nil {
		return fmt.Errorf("install eims: %w", err)
	}
	if _, err := service.InstallPlugin(pchem.New()); err != nil {
		return fmt.Errorf("install pchem: %w", err)
	}
	if _, err := service.InstallPlugin(spectroscopy.New()); err != nil {
		return fmt.Errorf("install spectroscopy: %w", err)
	}
	if _, err := service.InstallPlugin(importwizard.New()); err != nil {
		return fmt.Errorf("install importwizard: %w", err)
	}
	return nil
}

// printTable writes an aligned two-space-separated table.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	pad := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	fmt.Fprintln(w, pad(headers))
	dashes := make([]string, len(headers))
	for i, width := range widths {
		dashes[i] = strings.Repeat("-", width)
	}
	fmt.Fprintln(w, strings.Join(dashes, "  "))
	for _, row := range rows {
		fmt.Fprintln(w, pad(row))
	}
}

// printJSON writes v indented with sorted keys.
func printJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// prompt asks for a value on an interactive stdin; non-interactive
// invocations get the empty string.
func prompt(label string) string {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return ""
	}
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line)
}

// parseTags splits a comma-separated tag list, dropping empties.
func parseTags(value string) []string {
	if value == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
