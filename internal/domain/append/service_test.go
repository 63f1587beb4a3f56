package append_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/append"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
	"github.com/loomhq/loom/internal/repository/mocks"
)

func newService(t *testing.T) (*append.Service, *mocks.LedgerRepository, *mocks.ActivityRepository) {
	t.Helper()
	lg := new(mocks.LedgerRepository)
	ar := new(mocks.ActivityRepository)
	locks := lease.NewManager()
	return append.NewService(lg, ar, locks, time.Second, slog.Default()), lg, ar
}

func TestAppend_RejectsMissingRole(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Append(context.Background(), "tenant-a", append.Request{
		ProjectID: "p1", RefID: "r1", CreatedBy: "u1",
	})
	require.ErrorIs(t, err, append.ErrInvalidInput)
}

func TestAppend_WritesNodeAndLogsActivity(t *testing.T) {
	svc, lg, ar := newService(t)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.RefID == "r1" && in.Node.Role == refs.RoleUser && in.AttachDraft
	})).Return(&repository.AppendNodeResult{CommitID: "c1", NodeID: "n1", Ordinal: 3}, nil)
	ar.On("Log", mock.Anything, "tenant-a", mock.AnythingOfType("*repository.ActivityEntry")).Return(nil)

	res, err := svc.Append(context.Background(), "tenant-a", append.Request{
		ProjectID: "p1", RefID: "r1", Role: refs.RoleUser, Content: "hi",
		CreatedBy: "u1", AttachDraft: true,
	})
	require.NoError(t, err)
	require.Equal(t, "n1", res.NodeID)
	require.Equal(t, int64(3), res.Ordinal)
	lg.AssertExpectations(t)
	ar.AssertExpectations(t)
}

func TestAppend_RefNotFound(t *testing.T) {
	svc, lg, _ := newService(t)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.Anything).Return(nil, repository.ErrNotFound)

	_, err := svc.Append(context.Background(), "tenant-a", append.Request{
		ProjectID: "p1", RefID: "missing", Role: refs.RoleUser, CreatedBy: "u1",
	})
	require.ErrorIs(t, err, append.ErrRefNotFound)
}

func TestAppend_RefLockedWhenMutexHeld(t *testing.T) {
	locks := lease.NewManager()
	require.True(t, locks.TryLock("p1", "r1"))
	defer locks.Unlock("p1", "r1")

	lg := new(mocks.LedgerRepository)
	ar := new(mocks.ActivityRepository)
	svc := append.NewService(lg, ar, locks, 20*time.Millisecond, slog.Default())

	_, err := svc.Append(context.Background(), "tenant-a", append.Request{
		ProjectID: "p1", RefID: "r1", Role: refs.RoleUser, CreatedBy: "u1",
	})
	require.ErrorIs(t, err, lease.ErrRefLocked)
}
