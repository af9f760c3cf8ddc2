package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"whispers/pkg/domain"
)

// DefaultLockTimeout bounds how long a mutation waits for its event lock.
const DefaultLockTimeout = 5 * time.Second

// EventLocker serializes structural mutations of one event. The returned
// release function must be called exactly once.
type EventLocker interface {
	Lock(ctx context.Context, eventID int64) (func(), error)
}

// LocalLocker is an in-process EventLocker backed by one weighted semaphore
// per event. Idle entries are dropped.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[int64]*eventLock
}

type eventLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocalLocker constructs a locker that waits at most timeout.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalLocker{timeout: timeout, locks: make(map[int64]*eventLock)}
}

// Lock acquires the lock for eventID or returns domain.ConflictError after the
// timeout. A cancelled ctx returns its error instead.
func (l *LocalLocker) Lock(ctx context.Context, eventID int64) (func(), error) {
	l.mu.Lock()
	el, ok := l.locks[eventID]
	if !ok {
		el = &eventLock{sem: semaphore.NewWeighted(1)}
		l.locks[eventID] = el
	}
	el.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := el.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(eventID, el)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ConflictError{EventID: eventID, Wait: l.timeout}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			el.sem.Release(1)
			l.unref(eventID, el)
		})
	}, nil
}

func (l *LocalLocker) unref(eventID int64, el *eventLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el.refs--
	if el.refs == 0 {
		delete(l.locks, eventID)
	}
}

func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
