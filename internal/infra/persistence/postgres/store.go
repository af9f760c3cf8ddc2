// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics and snapshots committed state into a JSONB table. Every
// transaction reloads the snapshot under a transaction-scoped advisory lock,
// so several processes can share one database. The per-event advisory locker
// bounds how long a request waits for another request on the same event.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"whispers/internal/infra/persistence/memory"
	"whispers/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/whispers?sslmode=disable"

	// stateLockKey guards the load, mutate, write cycle of the state table.
	// Per-event advisory locks use event ids, which are positive.
	stateLockKey int64 = -0x57484953
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the snapshot table exists and hydrates the in-memory store from any
// existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction reloads the committed snapshot under the state lock, applies
// fn to it and writes the result in the same SQL transaction. The in-memory
// cache adopts the new state only after the SQL commit succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, stateLockKey); err != nil {
		return domain.Result{}, fmt.Errorf("lock state: %w", err)
	}
	base, err := loadSnapshot(ctx, tx)
	if err != nil {
		return domain.Result{}, err
	}
	return s.Apply(ctx, &base, fn, func(next memory.Snapshot) error {
		if err := writeSnapshot(ctx, tx, next); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		committed = true
		return nil
	})
}

// View reads the latest committed snapshot from the database.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	snapshot, err := loadSnapshot(ctx, s.db)
	if err != nil {
		return err
	}
	return memory.ViewSnapshot(snapshot, fn)
}

// GetEvent reads from the database, falling back to the state this process
// last committed when the read fails.
func (s *Store) GetEvent(id int64) (domain.Event, bool) {
	var (
		event domain.Event
		ok    bool
	)
	err := s.View(context.Background(), func(view domain.TransactionView) error {
		event, ok = view.FindEvent(id)
		return nil
	})
	if err != nil {
		return s.Store.GetEvent(id)
	}
	return event, ok
}

// ListEvents reads from the database with the same fallback as GetEvent.
func (s *Store) ListEvents() []domain.Event {
	var events []domain.Event
	err := s.View(context.Background(), func(view domain.TransactionView) error {
		events = view.ListEvents()
		return nil
	})
	if err != nil {
		return s.Store.ListEvents()
	}
	return events
}

// DB exposes the underlying sql.DB, shared with the advisory locker.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSnapshot(ctx context.Context, db querier) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func writeSnapshot(ctx context.Context, tx *sql.Tx, snapshot memory.Snapshot) error {
	buckets, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	for _, bucket := range memory.BucketNames {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, buckets[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
