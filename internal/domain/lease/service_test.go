package lease_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/repository"
	"github.com/loomhq/loom/internal/repository/mocks"
)

func newService(t *testing.T) (*lease.Service, *mocks.LeaseRepository) {
	t.Helper()
	lr := new(mocks.LeaseRepository)
	return lease.NewService(lr, slog.Default()), lr
}

func TestAcquire_RejectsInvalidInput(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Acquire(context.Background(), "tenant-a", lease.AcquireRequest{ProjectID: "p1"})
	require.ErrorIs(t, err, lease.ErrInvalidInput)
}

func TestAcquire_Success(t *testing.T) {
	svc, lr := newService(t)
	lr.On("Acquire", mock.Anything, "tenant-a", mock.AnythingOfType("*repository.Lease")).Return(nil)

	res, err := svc.Acquire(context.Background(), "tenant-a", lease.AcquireRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)
	require.True(t, res.Acquired)
	lr.AssertExpectations(t)
}

func TestAcquire_BusyReturnsHolder(t *testing.T) {
	svc, lr := newService(t)
	holderExpiry := time.Now().Add(time.Minute)
	lr.On("Acquire", mock.Anything, "tenant-a", mock.AnythingOfType("*repository.Lease")).Return(repository.ErrConflict)
	lr.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{
		ProjectID: "p1", RefID: "r1", UserID: "u2", SessionID: "s2", ExpiresAt: holderExpiry,
	}, nil)

	res, err := svc.Acquire(context.Background(), "tenant-a", lease.AcquireRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "s1", TTL: time.Minute,
	})
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, "s2", res.HolderSessionID)
	require.Equal(t, holderExpiry, res.HolderExpiresAt)
}

func TestRefresh_NotHeldWrapsNotFound(t *testing.T) {
	svc, lr := newService(t)
	lr.On("Refresh", mock.Anything, "tenant-a", "p1", "r1", "u1", "s1", mock.Anything).Return(repository.ErrNotFound)

	err := svc.Refresh(context.Background(), "tenant-a", "p1", "r1", "u1", "s1", time.Minute)
	require.ErrorIs(t, err, lease.ErrNotHeld)
}

func TestRelease_NoOpWhenNotHeld(t *testing.T) {
	svc, lr := newService(t)
	lr.On("Release", mock.Anything, "tenant-a", "p1", "r1", "s1", false).Return(nil)

	err := svc.Release(context.Background(), "tenant-a", "p1", "r1", "s1", false)
	require.NoError(t, err)
	lr.AssertExpectations(t)
}

func TestIsHeldByOther(t *testing.T) {
	svc, lr := newService(t)
	lr.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{
		SessionID: "s2", ExpiresAt: time.Now().Add(time.Minute),
	}, nil)

	held, err := svc.IsHeldByOther(context.Background(), "tenant-a", "p1", "r1", "s1")
	require.NoError(t, err)
	require.True(t, held)
}

func TestIsHeldByOther_ExpiredIsNotHeld(t *testing.T) {
	svc, lr := newService(t)
	lr.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{
		SessionID: "s2", ExpiresAt: time.Now().Add(-time.Minute),
	}, nil)

	held, err := svc.IsHeldByOther(context.Background(), "tenant-a", "p1", "r1", "s1")
	require.NoError(t, err)
	require.False(t, held)
}
