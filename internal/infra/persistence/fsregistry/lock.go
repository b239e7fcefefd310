package fsregistry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const lockFileName = "registry.lock"

// AcquireLock claims an exclusive on-disk lock for a data directory so two
// processes cannot mirror registries into the same tree. The returned release
// removes the lock file.
func AcquireLock(dir string) (func() error, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("registry at %s is locked by pid %s (remove %s if stale)",
				dir, strings.TrimSpace(string(owner)), lockFileName)
		}
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	release := func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return release, nil
}
