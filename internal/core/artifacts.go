package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"labos/internal/artifact"
	artifactfs "labos/internal/infra/artifact/fs"
	artifactmemory "labos/internal/infra/artifact/memory"
	artifacts3 "labos/internal/infra/artifact/s3"
	"labos/pkg/domain"
)

// Environment keys consulted by OpenArtifactStore.
const (
	EnvArtifactDriver = "LABOS_ARTIFACT_DRIVER"
	EnvArtifactDir    = "LABOS_ARTIFACT_DIR"
)

// ArtifactSettings carries resolved artifact store selection, typically
// produced by the config package.
type ArtifactSettings struct {
	Driver artifact.Driver
	Dir    string
	S3     artifacts3.Config
}

// OpenArtifactStore selects an artifact backend from the environment.
// Unset variables fall back to the filesystem driver rooted at
// <data>/artifacts.
func OpenArtifactStore(ctx context.Context) (artifact.Store, error) {
	driver := artifact.Driver(os.Getenv(EnvArtifactDriver))
	if driver == artifact.DriverS3 {
		return artifacts3.OpenFromEnv(ctx)
	}
	return OpenArtifactStoreWith(ctx, ArtifactSettings{
		Driver: driver,
		Dir:    os.Getenv(EnvArtifactDir),
	})
}

// OpenArtifactStoreWith opens the backend described by settings. An empty
// driver means the filesystem default.
func OpenArtifactStoreWith(ctx context.Context, settings ArtifactSettings) (artifact.Store, error) {
	driver := settings.Driver
	if driver == "" {
		driver = artifact.DriverFS
	}
	switch driver {
	case artifact.DriverFS:
		dir := settings.Dir
		if dir == "" {
			dir = filepath.Join(dataDir(), "artifacts")
		}
		return artifactfs.New(dir)
	case artifact.DriverMemory:
		return artifactmemory.New(), nil
	case artifact.DriverS3:
		return artifacts3.New(ctx, settings.S3)
	default:
		return nil, domain.ConfigurationError{Key: EnvArtifactDriver, Reason: fmt.Sprintf("unknown driver %q", driver)}
	}
}
