// Package artifact defines the storage-agnostic contract for derived
// artifacts: job results, exports, and signature envelopes. Concrete
// drivers live under internal/infra/artifact.
package artifact

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete artifact store implementation.
type Driver string

const (
	// DriverFS stores artifacts on the local filesystem.
	DriverFS Driver = "fs"
	// DriverS3 stores artifacts in an S3-compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps artifacts in process memory.
	DriverMemory Driver = "memory"
)

// DefaultPresignExpiry applies when SignedURLOptions.Expiry is zero.
const DefaultPresignExpiry = 15 * time.Minute

// PutOptions carries optional attributes applied when writing an artifact.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions controls presigned URL generation.
type SignedURLOptions struct {
	// Method is the HTTP verb the URL should authorize. Defaults to GET.
	Method string
	// Expiry bounds the URL lifetime. Defaults to DefaultPresignExpiry.
	Expiry time.Duration
	// Headers are additional headers the request must carry, when the
	// driver supports binding them.
	Headers map[string]string
}

// Info describes a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the persistence contract shared by all artifact drivers.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrNotFound reports a missing artifact key.
var ErrNotFound = errors.New("artifact not found")

// ErrUnsupported reports an operation the active driver cannot provide.
var ErrUnsupported = errors.New("operation not supported by artifact driver")
