package project_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/project"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
	"github.com/loomhq/loom/internal/repository/mocks"
)

func newService(t *testing.T) (*project.Service, *mocks.ProjectRepository, *mocks.RefRepository) {
	t.Helper()
	pr := new(mocks.ProjectRepository)
	rr := new(mocks.RefRepository)
	logger := slog.Default()
	return project.NewService(pr, rr, logger), pr, rr
}

func TestCreate_RejectsEmptyName(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Create(context.Background(), "tenant-a", project.CreateRequest{OwnerID: "u1"})
	require.ErrorIs(t, err, project.ErrInvalidInput)
}

func TestCreate_EnrollsOwnerAndCreatesTrunk(t *testing.T) {
	svc, pr, rr := newService(t)
	pr.On("Create", mock.Anything, "tenant-a", mock.AnythingOfType("*refs.Project")).Return(nil)
	pr.On("AddMember", mock.Anything, "tenant-a", mock.Anything, "u1").Return(nil)
	rr.On("Create", mock.Anything, "tenant-a", mock.MatchedBy(func(r *refs.Ref) bool {
		return r.Name == refs.TrunkName
	})).Return(nil)

	p, err := svc.Create(context.Background(), "tenant-a", project.CreateRequest{Name: "demo", OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "demo", p.Name)
	pr.AssertExpectations(t)
	rr.AssertExpectations(t)
}

func TestGet_WrapsNotFound(t *testing.T) {
	svc, pr, _ := newService(t)
	pr.On("Get", mock.Anything, "tenant-a", "missing").Return(nil, repository.ErrNotFound)

	_, err := svc.Get(context.Background(), "tenant-a", "missing")
	require.ErrorIs(t, err, project.ErrProjectNotFound)
}

func TestRequireMember(t *testing.T) {
	svc, pr, _ := newService(t)
	pr.On("IsMember", mock.Anything, "tenant-a", "p1", "u2").Return(false, nil)

	err := svc.RequireMember(context.Background(), "tenant-a", "p1", "u2")
	require.ErrorIs(t, err, project.ErrNotMember)
}
