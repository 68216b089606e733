// Package lock provides a per-key mutex with expiry, used to keep a single
// dispatcher working on a send key at a time.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/hybridprotocol/newsletter/pkg/id"
)

var (
	// ErrLocked is returned by Acquire when another holder owns the key.
	ErrLocked = errors.New("lock: already held")
	// ErrNotHeld is returned when releasing or refreshing a lock that expired
	// or was taken over.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker hands out expiring locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. Refresh extends it; Release gives it up.
type Lock interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

func newToken() string { return id.NewULID() }
