package fsregistry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"labos/internal/infra/persistence/memory"
	"labos/pkg/domain"
)

// Compile-time contract assertion ensuring the driver satisfies the domain interface.
var _ domain.PersistentStore = (*Driver)(nil)

// Subdirectories of the data directory, one per registry.
const (
	ExperimentsDir = "experiments"
	JobsDir        = "jobs"
	DatasetsDir    = "datasets"
)

// Options configure the filesystem persistence driver.
type Options struct {
	// DataDir is the root of the record tree
	// (<DataDir>/{experiments,jobs,datasets}/<id>.json).
	DataDir string
	// Engine is the rules engine evaluated inside transactions.
	Engine *domain.RulesEngine
	// Logger receives recovery and skip warnings.
	Logger domain.Logger
}

// Driver is the default persistent store: transactions run against the
// in-memory store, and every committed record is mirrored to its own JSON
// document. Only records a transaction touched are rewritten.
type Driver struct {
	*memory.Store
	experiments *Registry[domain.Experiment]
	jobs        *Registry[domain.Job]
	datasets    *Registry[domain.DatasetRef]
	logger      domain.Logger

	mu      sync.Mutex
	last    memory.Snapshot
	release func() error
}

// Open hydrates the in-memory state from the record tree and locks the data
// directory for this process.
func Open(opts Options) (*Driver, error) {
	if opts.DataDir == "" {
		return nil, domain.ConfigurationError{Key: "data_dir", Reason: "filesystem driver requires a data directory"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = domain.NopLogger{}
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	release, err := AcquireLock(opts.DataDir)
	if err != nil {
		return nil, err
	}

	experiments, err := NewRegistry[domain.Experiment](filepath.Join(opts.DataDir, ExperimentsDir), domain.EntityExperiment, logger)
	if err != nil {
		_ = release()
		return nil, err
	}
	jobs, err := NewRegistry[domain.Job](filepath.Join(opts.DataDir, JobsDir), domain.EntityJob, logger)
	if err != nil {
		_ = release()
		return nil, err
	}
	datasets, err := NewRegistry[domain.DatasetRef](filepath.Join(opts.DataDir, DatasetsDir), domain.EntityDataset, logger)
	if err != nil {
		_ = release()
		return nil, err
	}

	driver := &Driver{
		Store:       memory.NewStore(opts.Engine),
		experiments: experiments,
		jobs:        jobs,
		datasets:    datasets,
		logger:      logger,
		release:     release,
	}
	if err := driver.hydrate(); err != nil {
		_ = release()
		return nil, err
	}
	return driver, nil
}

func (d *Driver) hydrate() error {
	experiments, err := d.experiments.LoadAll()
	if err != nil {
		return fmt.Errorf("hydrate experiments: %w", err)
	}
	jobs, err := d.jobs.LoadAll()
	if err != nil {
		return fmt.Errorf("hydrate jobs: %w", err)
	}
	datasets, err := d.datasets.LoadAll()
	if err != nil {
		return fmt.Errorf("hydrate datasets: %w", err)
	}
	d.Store.ImportState(memory.Snapshot{Experiments: experiments, Jobs: jobs, Datasets: datasets})
	d.last = d.Store.ExportState()
	return nil
}

// RunInTransaction applies fn in memory, then mirrors the committed changes
// onto disk. A mirroring failure is returned to the caller; the in-memory
// state keeps the commit and the next successful transaction re-syncs it.
func (d *Driver) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	result, err := d.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return result, err
	}
	if err := d.persistChanges(); err != nil {
		return result, fmt.Errorf("persist registry state: %w", err)
	}
	return result, nil
}

func (d *Driver) persistChanges() error {
	current := d.Store.ExportState()
	if err := persistBucket(d.experiments, d.last.Experiments, current.Experiments); err != nil {
		return err
	}
	if err := persistBucket(d.jobs, d.last.Jobs, current.Jobs); err != nil {
		return err
	}
	if err := persistBucket(d.datasets, d.last.Datasets, current.Datasets); err != nil {
		return err
	}
	d.last = current
	return nil
}

func persistBucket[T any](registry *Registry[T], before, after map[string]T) error {
	for id, record := range after {
		if prev, ok := before[id]; ok && reflect.DeepEqual(prev, record) {
			continue
		}
		if err := registry.Save(id, record); err != nil {
			return err
		}
	}
	for id := range before {
		if _, ok := after[id]; ok {
			continue
		}
		if err := registry.Delete(id); err != nil && !domain.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Close releases the data directory lock.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release == nil {
		return nil
	}
	release := d.release
	d.release = nil
	return release()
}
