package domain

import "context"

// Transaction exposes the registry mutations a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateExperiment(Experiment) (Experiment, error)
	UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error)
	DeleteExperiment(id string) error
	CreateJob(Job) (Job, error)
	UpdateJob(id string, mutator func(*Job) error) (Job, error)
	DeleteJob(id string) error
	CreateDataset(DatasetRef) (DatasetRef, error)
	UpdateDataset(id string, mutator func(*DatasetRef) error) (DatasetRef, error)
	DeleteDataset(id string) error
	FindExperiment(id string) (Experiment, bool)
	FindDataset(id string) (DatasetRef, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// listing surfaces.
type TransactionView interface {
	ListExperiments() []Experiment
	ListJobs() []Job
	ListDatasets() []DatasetRef
	FindExperiment(id string) (Experiment, bool)
	FindJob(id string) (Job, bool)
	FindDataset(id string) (DatasetRef, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetExperiment(id string) (Experiment, bool)
	ListExperiments() []Experiment
	GetJob(id string) (Job, bool)
	ListJobs() []Job
	GetDataset(id string) (DatasetRef, bool)
	ListDatasets() []DatasetRef
}
