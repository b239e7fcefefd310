package core

import (
	"fmt"
	"os"
	"path/filepath"

	"labos/internal/infra/persistence/fsregistry"
	"labos/internal/infra/persistence/memory"
	"labos/internal/infra/persistence/postgres"
	"labos/internal/infra/persistence/sqlite"
	"labos/pkg/domain"
)

// StorageDriver identifies a persistent storage backend.
type StorageDriver string

const (
	// StorageFS keeps one JSON document per record under the data
	// directory. Default.
	StorageFS StorageDriver = "fs"
	// StorageMemory keeps records in process memory only.
	StorageMemory StorageDriver = "memory"
	// StorageSQLite keeps records in an embedded sqlite file.
	StorageSQLite StorageDriver = "sqlite"
	// StoragePostgres keeps records in a PostgreSQL server.
	StoragePostgres StorageDriver = "postgres"
)

// Environment keys consulted by OpenPersistentStore.
const (
	EnvStorageDriver = "LABOS_STORAGE_DRIVER"
	EnvDataDir       = "LABOS_DATA_DIR"
	EnvSQLitePath    = "LABOS_SQLITE_PATH"
	EnvPostgresDSN   = "LABOS_POSTGRES_DSN"
)

// DefaultDataDir anchors the record tree when LABOS_DATA_DIR is unset.
const DefaultDataDir = "data"

// StorageSettings carries resolved storage selection, typically produced
// by the config package.
type StorageSettings struct {
	Driver      StorageDriver
	DataDir     string
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore selects and opens a storage backend from the
// environment. Unset variables fall back to the filesystem driver rooted
// at ./data.
func OpenPersistentStore(engine *RulesEngine, logger domain.Logger) (PersistentStore, error) {
	return OpenPersistentStoreWith(StorageSettings{
		Driver:      StorageDriver(os.Getenv(EnvStorageDriver)),
		DataDir:     dataDir(),
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
	}, engine, logger)
}

// OpenPersistentStoreWith opens the backend described by settings. An
// empty driver means the filesystem default.
func OpenPersistentStoreWith(settings StorageSettings, engine *RulesEngine, logger domain.Logger) (PersistentStore, error) {
	driver := settings.Driver
	if driver == "" {
		driver = StorageFS
	}
	if logger == nil {
		logger = domain.NopLogger{}
	}
	dir := settings.DataDir
	if dir == "" {
		dir = DefaultDataDir
	}
	switch driver {
	case StorageFS:
		return fsregistry.Open(fsregistry.Options{
			DataDir: dir,
			Engine:  engine,
			Logger:  logger,
		})
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := settings.SQLitePath
		if path == "" {
			path = filepath.Join(dir, "labos.db")
		}
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		if settings.PostgresDSN == "" {
			return nil, domain.ConfigurationError{Key: EnvPostgresDSN, Reason: "postgres driver requires a DSN"}
		}
		return postgres.NewStore(settings.PostgresDSN, engine)
	default:
		return nil, domain.ConfigurationError{Key: EnvStorageDriver, Reason: fmt.Sprintf("unknown driver %q", driver)}
	}
}

func dataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	return DefaultDataDir
}
