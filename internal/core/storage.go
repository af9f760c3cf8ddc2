package core

import (
	"context"
	"fmt"
	"time"

	"whispers/internal/infra/persistence/memory"
	"whispers/internal/infra/persistence/postgres"
	"whispers/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// LockBackend selects how per-event locks are taken.
type LockBackend string

const (
	LockLocal    LockBackend = "local"
	LockAdvisory LockBackend = "advisory" // postgres only
)

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	Lock        LockBackend
	LockTimeout time.Duration
}

// Storage is an opened backend with the locker matching it.
type Storage struct {
	Store  PersistentStore
	Locker EventLocker
	close  func() error
}

// Close releases the backend's resources.
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenPersistentStore opens the backend named by opts. Sqlite is the default.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *RulesEngine) (*Storage, error) {
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	if opts.Lock == LockAdvisory && driver != StoragePostgres {
		return nil, fmt.Errorf("advisory locks require the postgres driver, got %s", driver)
	}
	switch driver {
	case StorageMemory:
		return &Storage{Store: memory.NewStore(engine), Locker: NewLocalLocker(timeout)}, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(opts.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return &Storage{Store: store, Locker: NewLocalLocker(timeout), close: store.Close}, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, opts.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		var locker EventLocker = NewLocalLocker(timeout)
		if opts.Lock == LockAdvisory {
			locker = postgres.NewAdvisoryLocker(store.DB(), timeout)
		}
		return &Storage{Store: store, Locker: locker, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
