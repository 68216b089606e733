package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AcquireRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	l, err := m.Acquire(ctx, "abc123", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "abc123", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	other, err := m.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, l.Release(ctx))
	require.ErrorIs(t, l.Release(ctx), ErrNotHeld)

	_, err = m.Acquire(ctx, "abc123", time.Minute)
	require.NoError(t, err)
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	stale, err := m.Acquire(ctx, "abc123", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	require.ErrorIs(t, stale.Refresh(ctx, time.Minute), ErrNotHeld)

	fresh, err := m.Acquire(ctx, "abc123", time.Minute)
	require.NoError(t, err, "expired lock can be taken over")

	require.ErrorIs(t, stale.Release(ctx), ErrNotHeld, "stale holder cannot release the new lock")

	now = now.Add(30 * time.Second)
	require.NoError(t, fresh.Refresh(ctx, time.Minute))

	// Past the original expiry, inside the refreshed one.
	now = now.Add(45 * time.Second)
	_, err = m.Acquire(ctx, "abc123", time.Minute)
	assert.ErrorIs(t, err, ErrLocked, "refresh extended the lock")
}
