// Package lock provides short-lived mutual exclusion keyed by string, used to
// stop two concurrent claim submissions for the same invoice.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned when the key is already held by someone else.
var ErrLocked = errors.New("lock: already held")

// Release gives the lock back. Releasing an expired or stolen lock is a no-op.
type Release func(ctx context.Context) error

// Locker acquires a lock on key for at most ttl. It does not block: a held
// key fails immediately with ErrLocked.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}
