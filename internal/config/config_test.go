package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labos/internal/core"
	"labos/pkg/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		EnvConfigFile, EnvRoot, EnvDataDir, EnvAuditDir, EnvExperimentDir,
		EnvJobDir, EnvDatasetDir, EnvExamplesDir, EnvFeedbackDir,
		EnvStorageDriver, EnvSQLitePath, EnvPostgresDSN,
		EnvArtifactDriver, EnvArtifactDir, EnvAPIAddr,
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestDefaultsDeriveDirectoryTree(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv(EnvRoot, root)

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Root != root {
		t.Fatalf("root = %q, want %q", cfg.Root, root)
	}
	wantDirs := map[string]string{
		"data":        cfg.DataDir,
		"audit":       cfg.AuditDir,
		"experiments": cfg.ExperimentDir,
		"jobs":        cfg.JobDir,
		"datasets":    cfg.DatasetDir,
	}
	for name, got := range wantDirs {
		var want string
		if name == "data" {
			want = filepath.Join(root, "data")
		} else {
			want = filepath.Join(root, "data", name)
		}
		if got != want {
			t.Fatalf("%s dir = %q, want %q", name, got, want)
		}
	}
	if cfg.ExamplesDir != filepath.Join(root, "examples") {
		t.Fatalf("examples dir = %q", cfg.ExamplesDir)
	}
	if cfg.FeedbackDir != filepath.Join(root, "feedback") {
		t.Fatalf("feedback dir = %q", cfg.FeedbackDir)
	}
	if cfg.Artifact.Dir != filepath.Join(root, "data", "artifacts") {
		t.Fatalf("artifact dir = %q", cfg.Artifact.Dir)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if cfg.Worker.Count != 1 || cfg.Worker.Queue != 16 {
		t.Fatalf("worker defaults = %+v", cfg.Worker)
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	path := filepath.Join(root, "labos.yaml")
	body := `
root: ` + root + `
storage:
  driver: sqlite
  sqlite_path: /var/lib/labos/labos.db
artifact:
  driver: s3
  s3:
    bucket: labos-records
    prefix: lab-a
    region: eu-central-1
    endpoint: http://127.0.0.1:9000
api:
  addr: 127.0.0.1:9911
worker:
  count: 4
  queue: 64
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/var/lib/labos/labos.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Artifact.Driver != "s3" || cfg.Artifact.S3.Bucket != "labos-records" {
		t.Fatalf("artifact = %+v", cfg.Artifact)
	}
	if cfg.Artifact.S3.Prefix != "lab-a" || cfg.Artifact.S3.Region != "eu-central-1" {
		t.Fatalf("s3 = %+v", cfg.Artifact.S3)
	}
	if cfg.API.Addr != "127.0.0.1:9911" {
		t.Fatalf("api addr = %q", cfg.API.Addr)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.Queue != 64 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
	if cfg.AuditDir != filepath.Join(root, "data", "audit") {
		t.Fatalf("audit dir = %q", cfg.AuditDir)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	path := filepath.Join(root, "labos.yaml")
	body := "root: " + root + "\nstorage:\n  driver: fs\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	auditDir := filepath.Join(root, "elsewhere", "audit")
	t.Setenv(EnvStorageDriver, "sqlite")
	t.Setenv(EnvAuditDir, auditDir)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q, want env override", cfg.Storage.Driver)
	}
	if cfg.AuditDir != auditDir {
		t.Fatalf("audit dir = %q, want %q", cfg.AuditDir, auditDir)
	}
	if cfg.ExperimentDir != filepath.Join(root, "data", "experiments") {
		t.Fatalf("experiment dir = %q", cfg.ExperimentDir)
	}
}

func TestLoadHonorsConfigEnv(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	path := filepath.Join(root, "custom.yaml")
	if err := os.WriteFile(path, []byte("root: "+root+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != root {
		t.Fatalf("root = %q, want %q", cfg.Root, root)
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != EnvConfigFile {
		t.Fatalf("err = %v, want ConfigurationError for %s", err, EnvConfigFile)
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "labos.yaml")
	if err := os.WriteFile(path, []byte("root: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := LoadFile(path)
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestEnsureDirectoriesCreatesTree(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv(EnvRoot, root)
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.AuditDir, cfg.ExperimentDir, cfg.JobDir, cfg.DatasetDir, cfg.ExamplesDir, cfg.FeedbackDir, cfg.Artifact.Dir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("dir %s missing: %v", dir, err)
		}
	}
}

func TestTimestampedPathIsCollisionResistant(t *testing.T) {
	dir := t.TempDir()
	first := TimestampedPath(dir, "report", "json")
	second := TimestampedPath(dir, "report", ".json")
	if first == second {
		t.Fatalf("paths collide: %s", first)
	}
	for _, p := range []string{first, second} {
		base := filepath.Base(p)
		if !strings.HasPrefix(base, "report-") || !strings.HasSuffix(base, ".json") {
			t.Fatalf("unexpected shape: %s", base)
		}
		if filepath.Dir(p) != dir {
			t.Fatalf("dir = %s, want %s", filepath.Dir(p), dir)
		}
	}
}

// Storage and artifact keys must stay aligned with the core factories so
// either entry point reads the same environment.
func TestEnvKeysMatchCoreFactories(t *testing.T) {
	pairs := map[string]string{
		EnvStorageDriver:  core.EnvStorageDriver,
		EnvDataDir:        core.EnvDataDir,
		EnvSQLitePath:     core.EnvSQLitePath,
		EnvPostgresDSN:    core.EnvPostgresDSN,
		EnvArtifactDriver: core.EnvArtifactDriver,
		EnvArtifactDir:    core.EnvArtifactDir,
	}
	for got, want := range pairs {
		if got != want {
			t.Fatalf("env key %q diverged from core %q", got, want)
		}
	}
}
