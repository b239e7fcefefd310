// Package config resolves the LabOS directory tree and runtime settings.
// Precedence: built-in defaults, then the optional labos.yaml file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"labos/pkg/domain"
)

// DefaultFile is the config file consulted when LABOS_CONFIG is unset.
const DefaultFile = "labos.yaml"

// Environment keys. Storage and artifact keys mirror the ones the core
// factories read, so either entry point resolves the same values.
const (
	EnvConfigFile     = "LABOS_CONFIG"
	EnvRoot           = "LABOS_ROOT"
	EnvDataDir        = "LABOS_DATA_DIR"
	EnvAuditDir       = "LABOS_AUDIT_DIR"
	EnvExperimentDir  = "LABOS_EXPERIMENT_DIR"
	EnvJobDir         = "LABOS_JOB_DIR"
	EnvDatasetDir     = "LABOS_DATASET_DIR"
	EnvExamplesDir    = "LABOS_EXAMPLES_DIR"
	EnvFeedbackDir    = "LABOS_FEEDBACK_DIR"
	EnvStorageDriver  = "LABOS_STORAGE_DRIVER"
	EnvSQLitePath     = "LABOS_SQLITE_PATH"
	EnvPostgresDSN    = "LABOS_POSTGRES_DSN"
	EnvArtifactDriver = "LABOS_ARTIFACT_DRIVER"
	EnvArtifactDir    = "LABOS_ARTIFACT_DIR"
	EnvAPIAddr        = "LABOS_API_ADDR"
)

// Storage selects the registry persistence backend.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// S3 holds bucket coordinates for the s3 artifact driver.
type S3 struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Artifact selects the artifact store backend.
type Artifact struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	S3     S3     `yaml:"s3"`
}

// API holds HTTP server settings.
type API struct {
	Addr string `yaml:"addr"`
}

// Worker sizes the job worker pool.
type Worker struct {
	Count int `yaml:"count"`
	Queue int `yaml:"queue"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Root     string   `yaml:"root"`
	DataDir  string   `yaml:"data_dir"`
	Storage  Storage  `yaml:"storage"`
	Artifact Artifact `yaml:"artifact"`
	API      API      `yaml:"api"`
	Worker   Worker   `yaml:"worker"`

	// Directories derived from Root/DataDir, each overridable through its
	// environment variable.
	AuditDir      string `yaml:"-"`
	ExperimentDir string `yaml:"-"`
	JobDir        string `yaml:"-"`
	DatasetDir    string `yaml:"-"`
	ExamplesDir   string `yaml:"-"`
	FeedbackDir   string `yaml:"-"`
}

// Default returns the built-in configuration rooted at the current
// directory.
func Default() Config {
	return Config{
		Root: ".",
		API:  API{Addr: ":8080"},
		Worker: Worker{
			Count: 1,
			Queue: 16,
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file named by
// LABOS_CONFIG (or ./labos.yaml when present), then the environment.
func Load() (Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	return LoadFile(path)
}

// LoadFile resolves the configuration from an explicit YAML path. An
// empty path skips the file layer.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, domain.ConfigurationError{Key: EnvConfigFile, Reason: fmt.Sprintf("config file %s does not exist", path)}
			}
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, domain.ConfigurationError{Key: EnvConfigFile, Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&c.Root, EnvRoot)
	overlay(&c.DataDir, EnvDataDir)
	overlay(&c.AuditDir, EnvAuditDir)
	overlay(&c.ExperimentDir, EnvExperimentDir)
	overlay(&c.JobDir, EnvJobDir)
	overlay(&c.DatasetDir, EnvDatasetDir)
	overlay(&c.ExamplesDir, EnvExamplesDir)
	overlay(&c.FeedbackDir, EnvFeedbackDir)
	overlay(&c.Storage.Driver, EnvStorageDriver)
	overlay(&c.Storage.SQLitePath, EnvSQLitePath)
	overlay(&c.Storage.PostgresDSN, EnvPostgresDSN)
	overlay(&c.Artifact.Driver, EnvArtifactDriver)
	overlay(&c.Artifact.Dir, EnvArtifactDir)
	overlay(&c.API.Addr, EnvAPIAddr)
}

func (c *Config) normalize() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.Root, "data")
	}
	if c.AuditDir == "" {
		c.AuditDir = filepath.Join(c.DataDir, "audit")
	}
	if c.ExperimentDir == "" {
		c.ExperimentDir = filepath.Join(c.DataDir, "experiments")
	}
	if c.JobDir == "" {
		c.JobDir = filepath.Join(c.DataDir, "jobs")
	}
	if c.DatasetDir == "" {
		c.DatasetDir = filepath.Join(c.DataDir, "datasets")
	}
	if c.ExamplesDir == "" {
		c.ExamplesDir = filepath.Join(c.Root, "examples")
	}
	if c.FeedbackDir == "" {
		c.FeedbackDir = filepath.Join(c.Root, "feedback")
	}
	if c.Artifact.Dir == "" {
		c.Artifact.Dir = filepath.Join(c.DataDir, "artifacts")
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 1
	}
	if c.Worker.Queue <= 0 {
		c.Worker.Queue = 16
	}
}

// EnsureDirectories creates the record tree.
func (c Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.AuditDir,
		c.ExperimentDir,
		c.JobDir,
		c.DatasetDir,
		c.ExamplesDir,
		c.FeedbackDir,
		c.Artifact.Dir,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// TimestampedPath returns a collision-resistant path under dir:
// <stem>-<UTC stamp>-<random suffix><ext>.
func TimestampedPath(dir, stem, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s%s", stem, stamp, suffix, ext))
}
