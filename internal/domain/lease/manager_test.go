package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/lease"
)

func TestManager_TryLockExcludesSecondCaller(t *testing.T) {
	m := lease.NewManager()
	require.True(t, m.TryLock("p1", "r1"))
	require.False(t, m.TryLock("p1", "r1"))
	m.Unlock("p1", "r1")
	require.True(t, m.TryLock("p1", "r1"))
}

func TestManager_DistinctRefsDoNotContend(t *testing.T) {
	m := lease.NewManager()
	require.True(t, m.TryLock("p1", "r1"))
	require.True(t, m.TryLock("p1", "r2"))
}

func TestManager_WithLockTimesOut(t *testing.T) {
	m := lease.NewManager()
	require.True(t, m.TryLock("p1", "r1"))
	defer m.Unlock("p1", "r1")

	err := m.WithLock(context.Background(), "p1", "r1", 30*time.Millisecond, func() error {
		t.Fatal("fn should not run while lock is held")
		return nil
	})
	require.ErrorIs(t, err, lease.ErrRefLocked)
}

func TestManager_WithLockRunsFn(t *testing.T) {
	m := lease.NewManager()
	ran := false
	err := m.WithLock(context.Background(), "p1", "r1", time.Second, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestManager_SweepReclaimsUnheldLocks(t *testing.T) {
	m := lease.NewManager()
	require.True(t, m.TryLock("p1", "r1"))
	m.Unlock("p1", "r1")
	m.Sweep()
	require.True(t, m.TryLock("p1", "r1"))
}
