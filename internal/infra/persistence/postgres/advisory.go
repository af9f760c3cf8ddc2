package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"whispers/pkg/domain"
)

const defaultPollInterval = 50 * time.Millisecond

// AdvisoryLocker serializes mutations of one event across processes using
// session-level Postgres advisory locks keyed by the event id.
type AdvisoryLocker struct {
	db      *sql.DB
	timeout time.Duration
	poll    time.Duration
}

// NewAdvisoryLocker builds a locker that gives up after timeout.
func NewAdvisoryLocker(db *sql.DB, timeout time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, timeout: timeout, poll: defaultPollInterval}
}

// Lock blocks until the advisory lock for eventID is held or the timeout
// elapses, in which case it returns domain.ConflictError. The returned
// function releases the lock and returns the connection to the pool.
func (l *AdvisoryLocker) Lock(ctx context.Context, eventID int64) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock connection: %w", err)
	}
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, eventID).Scan(&acquired); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("try advisory lock %d: %w", eventID, err)
		}
		if acquired {
			return func() {
				var released bool
				_ = conn.QueryRowContext(context.Background(), `SELECT pg_advisory_unlock($1)`, eventID).Scan(&released)
				_ = conn.Close()
			}, nil
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.ConflictError{EventID: eventID, Wait: l.timeout}
			}
			return nil, ctx.Err()
		case <-deadline.C:
			_ = conn.Close()
			return nil, domain.ConflictError{EventID: eventID, Wait: l.timeout}
		case <-ticker.C:
		}
	}
}
