// Package fs implements the artifact store on the local filesystem. Keys
// map to relative paths under the root; a sidecar file (key + ".meta")
// carries content type, checksum, and user metadata.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"labos/internal/artifact"
	"labos/pkg/domain"
)

var _ artifact.Store = (*Store)(nil)

// Store keeps artifacts as plain files. Artifacts are create-once: a key
// is never overwritten.
type Store struct {
	root string
}

// New roots a store at dir, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, domain.ConfigurationError{Key: "artifact_dir", Reason: "filesystem driver requires a root directory"}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver implements artifact.Store.
func (s *Store) Driver() artifact.Driver { return artifact.DriverFS }

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// sanitizeKey rejects empty, absolute, and traversal keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("absolute artifact key %q", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", fmt.Errorf("artifact key %q escapes the root", key)
	}
	return clean, nil
}

func (s *Store) pathFor(key string) (dataPath, metaPath string, err error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(clean))
	metaPath = dataPath + ".meta"
	return dataPath, metaPath, nil
}

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size_bytes"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Put streams the artifact to a temp file, hashes it, and moves it into
// place atomically.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts artifact.PutOptions) (artifact.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return artifact.Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return artifact.Info{}, fmt.Errorf("artifact %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return artifact.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return artifact.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, digest), r)
	if err != nil {
		_ = tmp.Close()
		return artifact.Info{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return artifact.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return artifact.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return artifact.Info{}, err
	}

	etag := hex.EncodeToString(digest.Sum(nil))
	now := time.Now().UTC()
	meta := metaFile{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		ETag:        etag,
		Size:        size,
		CreatedAt:   now,
	}
	if err := writeMeta(metaPath, meta); err != nil {
		return artifact.Info{}, err
	}
	return artifact.Info{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         etag,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: now,
		URL:          s.localURL(key),
	}, nil
}

// Get opens the artifact for reading.
func (s *Store) Get(ctx context.Context, key string) (artifact.Info, io.ReadCloser, error) {
	dataPath, _, err := s.pathFor(key)
	if err != nil {
		return artifact.Info{}, nil, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return artifact.Info{}, nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	if err != nil {
		return artifact.Info{}, nil, err
	}
	info, err := s.Head(ctx, key)
	if err != nil {
		_ = file.Close()
		return artifact.Info{}, nil, err
	}
	return info, file, nil
}

// Head returns artifact metadata from the sidecar.
func (s *Store) Head(_ context.Context, key string) (artifact.Info, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return artifact.Info{}, err
	}
	meta, err := readMeta(metaPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return artifact.Info{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	if err != nil {
		return artifact.Info{}, err
	}
	return artifact.Info{
		Key:          key,
		Size:         meta.Size,
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		Metadata:     cloneMetadata(meta.Metadata),
		LastModified: meta.CreatedAt,
		URL:          s.localURL(key),
	}, nil
}

// Delete removes the artifact and its sidecar, reporting whether it
// existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root collecting sidecars whose keys match prefix.
func (s *Store) List(_ context.Context, prefix string) ([]artifact.Info, error) {
	var infos []artifact.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		meta, err := readMeta(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		infos = append(infos, artifact.Info{
			Key:          key,
			Size:         meta.Size,
			ContentType:  meta.ContentType,
			ETag:         meta.ETag,
			Metadata:     cloneMetadata(meta.Metadata),
			LastModified: meta.CreatedAt,
			URL:          s.localURL(key),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns the stable local URL. Only GET is meaningful for a
// filesystem store.
func (s *Store) PresignURL(_ context.Context, key string, opts artifact.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", artifact.ErrUnsupported
	}
	if _, err := sanitizeKey(key); err != nil {
		return "", err
	}
	return s.localURL(key), nil
}

func (s *Store) localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.artifacts", Path: "/" + key}).String()
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeMeta(path string, meta metaFile) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func readMeta(path string) (metaFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return metaFile{}, err
	}
	var meta metaFile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metaFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}
