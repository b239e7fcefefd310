// Package fsregistry stores registry records as one JSON document per record
// under a directory, with checksum sidecars and rotated backups so a torn
// write or manual edit never loses the record silently. It also provides the
// default persistence driver, which mirrors every committed transaction onto
// disk.
package fsregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"labos/pkg/domain"
)

// backupDepth is how many prior document versions are kept per record.
// backup.1 is the newest.
const backupDepth = 3

// Registry persists records of one entity type, one JSON document per id:
// <dir>/<id>.json plus an <id>.json.sha256 sidecar and up to backupDepth
// rotated <id>.json.backup.N copies.
type Registry[T any] struct {
	dir    string
	entity domain.EntityType
	logger domain.Logger
	mu     sync.Mutex
}

// NewRegistry opens (creating if needed) a record directory.
func NewRegistry[T any](dir string, entity domain.EntityType, logger domain.Logger) (*Registry[T], error) {
	if dir == "" {
		return nil, fmt.Errorf("registry directory for %s is empty", entity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	if logger == nil {
		logger = domain.NopLogger{}
	}
	return &Registry[T]{dir: dir, entity: entity, logger: logger}, nil
}

// Dir returns the directory the registry persists into.
func (r *Registry[T]) Dir() string { return r.dir }

func (r *Registry[T]) documentPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *Registry[T]) checksumPath(id string) string {
	return r.documentPath(id) + ".sha256"
}

func (r *Registry[T]) backupPath(id string, n int) string {
	return fmt.Sprintf("%s.backup.%d", r.documentPath(id), n)
}

// sanitizeID rejects ids that would escape the registry directory.
func sanitizeID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty record id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

func checksumOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Save writes the record document atomically: marshal, write to a temp file,
// fsync, rename over the target. An existing document is rotated into the
// backup chain first, and the checksum sidecar is refreshed last.
func (r *Registry[T]) Save(id string, record T) error {
	if err := sanitizeID(id); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s %q: %w", r.entity, id, err)
	}
	payload = append(payload, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.documentPath(id)
	if _, err := os.Stat(doc); err == nil {
		if err := r.rotateBackups(id); err != nil {
			return fmt.Errorf("rotate backups for %s %q: %w", r.entity, id, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := writeAtomic(doc, payload); err != nil {
		return fmt.Errorf("write %s %q: %w", r.entity, id, err)
	}
	if err := os.WriteFile(r.checksumPath(id), []byte(checksumOf(payload)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write checksum for %s %q: %w", r.entity, id, err)
	}
	return nil
}

// rotateBackups shifts backup.N to backup.N+1 (dropping the oldest) and
// copies the current document to backup.1.
func (r *Registry[T]) rotateBackups(id string) error {
	if err := os.Remove(r.backupPath(id, backupDepth)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for n := backupDepth - 1; n >= 1; n-- {
		from := r.backupPath(id, n)
		if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return err
		}
		if err := os.Rename(from, r.backupPath(id, n+1)); err != nil {
			return err
		}
	}
	current, err := os.ReadFile(r.documentPath(id))
	if err != nil {
		return err
	}
	return os.WriteFile(r.backupPath(id, 1), current, 0o644)
}

func writeAtomic(path string, payload []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a record, verifying the checksum sidecar when present. A corrupt
// or unparsable document falls back to the newest valid backup, which is
// re-promoted to the primary document.
func (r *Registry[T]) Load(id string) (T, error) {
	var zero T
	if err := sanitizeID(id); err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(id)
}

func (r *Registry[T]) load(id string) (T, error) {
	var zero T
	payload, err := os.ReadFile(r.documentPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, domain.NotFoundError{Entity: r.entity, ID: id}
	}
	if err != nil {
		return zero, err
	}
	record, decodeErr := r.decode(id, payload)
	if decodeErr == nil {
		return record, nil
	}
	r.logger.Warn("registry record unreadable, trying backups",
		"entity", string(r.entity), "id", id, "error", decodeErr.Error())
	return r.recoverFromBackup(id)
}

func (r *Registry[T]) decode(id string, payload []byte) (T, error) {
	var zero T
	if sidecar, err := os.ReadFile(r.checksumPath(id)); err == nil {
		want := strings.TrimSpace(string(sidecar))
		if got := checksumOf(payload); want != "" && got != want {
			return zero, fmt.Errorf("checksum mismatch: sidecar %s, document %s", want, got)
		}
	}
	var record T
	if err := json.Unmarshal(payload, &record); err != nil {
		return zero, fmt.Errorf("parse document: %w", err)
	}
	return record, nil
}

func (r *Registry[T]) recoverFromBackup(id string) (T, error) {
	var zero T
	for n := 1; n <= backupDepth; n++ {
		payload, err := os.ReadFile(r.backupPath(id, n))
		if err != nil {
			continue
		}
		var record T
		if err := json.Unmarshal(payload, &record); err != nil {
			continue
		}
		if err := writeAtomic(r.documentPath(id), payload); err != nil {
			return zero, fmt.Errorf("re-promote backup %d for %s %q: %w", n, r.entity, id, err)
		}
		if err := os.WriteFile(r.checksumPath(id), []byte(checksumOf(payload)+"\n"), 0o644); err != nil {
			return zero, fmt.Errorf("refresh checksum for %s %q: %w", r.entity, id, err)
		}
		r.logger.Warn("registry record recovered from backup",
			"entity", string(r.entity), "id", id, "backup", n)
		return record, nil
	}
	return zero, fmt.Errorf("%s %q is corrupt and no backup is readable", r.entity, id)
}

// ListIDs returns the sorted record ids present in the directory. Backups,
// sidecars, and temp files are excluded.
func (r *Registry[T]) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAll loads every record in the directory keyed by id. Records that fail
// both document and backup reads are skipped with a warning so a single bad
// file cannot take down the whole listing.
func (r *Registry[T]) LoadAll() (map[string]T, error) {
	ids, err := r.ListIDs()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make(map[string]T, len(ids))
	for _, id := range ids {
		record, err := r.load(id)
		if err != nil {
			r.logger.Warn("skipping unreadable registry record",
				"entity", string(r.entity), "id", id, "error", err.Error())
			continue
		}
		records[id] = record
	}
	return records, nil
}

// Delete removes the record document along with its sidecar and backups.
func (r *Registry[T]) Delete(id string) error {
	if err := sanitizeID(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.documentPath(id)
	if _, err := os.Stat(doc); errors.Is(err, fs.ErrNotExist) {
		return domain.NotFoundError{Entity: r.entity, ID: id}
	} else if err != nil {
		return err
	}
	if err := os.Remove(doc); err != nil {
		return err
	}
	_ = os.Remove(r.checksumPath(id))
	for n := 1; n <= backupDepth; n++ {
		_ = os.Remove(r.backupPath(id, n))
	}
	return nil
}
