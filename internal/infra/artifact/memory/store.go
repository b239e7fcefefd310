// Package memory implements an in-memory artifact store for tests and
// ephemeral runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"labos/internal/artifact"
)

var _ artifact.Store = (*Store)(nil)

type entry struct {
	info artifact.Info
	data []byte
}

// Store keeps artifacts in process memory. Keys are create-once, matching
// the filesystem driver.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty store.
func New() *Store { return &Store{entries: map[string]entry{}} }

// Driver implements artifact.Store.
func (s *Store) Driver() artifact.Driver { return artifact.DriverMemory }

// Put stores a new artifact; existing keys are rejected.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts artifact.PutOptions) (artifact.Info, error) {
	if key == "" {
		return artifact.Info{}, fmt.Errorf("empty artifact key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return artifact.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return artifact.Info{}, fmt.Errorf("artifact %s already exists", key)
	}
	info := artifact.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.entries[key] = entry{info: info, data: data}
	return info, nil
}

// Get returns the artifact metadata and a reader over a copy of its bytes.
func (s *Store) Get(_ context.Context, key string) (artifact.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return artifact.Info{}, nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns artifact metadata only.
func (s *Store) Head(_ context.Context, key string) (artifact.Info, error) {
	s.mu.RLock()
	obj, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return artifact.Info{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

// Delete removes the artifact, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

// List returns artifacts matching prefix, sorted by key.
func (s *Store) List(_ context.Context, prefix string) ([]artifact.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]artifact.Info, 0, len(s.entries))
	for key, obj := range s.entries {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		info := obj.info
		info.Metadata = cloneMetadata(info.Metadata)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL is unsupported for the memory driver.
func (s *Store) PresignURL(context.Context, string, artifact.SignedURLOptions) (string, error) {
	return "", artifact.ErrUnsupported
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
