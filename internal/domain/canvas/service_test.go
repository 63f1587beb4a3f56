package canvas_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
	"github.com/loomhq/loom/internal/repository/mocks"
)

func newService(t *testing.T) (*canvas.Service, *mocks.RefRepository, *mocks.ArtefactRepository, *mocks.LedgerRepository, *mocks.ActivityRepository) {
	t.Helper()
	rr := new(mocks.RefRepository)
	ar := new(mocks.ArtefactRepository)
	lg := new(mocks.LedgerRepository)
	act := new(mocks.ActivityRepository)
	locks := lease.NewManager()
	return canvas.NewService(rr, ar, lg, act, locks, time.Second, slog.Default()), rr, ar, lg, act
}

func TestGetCanvas_PrefersDraftOverArtefact(t *testing.T) {
	svc, _, ar, _, _ := newService(t)
	ar.On("GetDraft", mock.Anything, "tenant-a", "p1", "r1", "u1").
		Return(&refs.ArtefactDraft{Content: "draft text", ContentHash: "h1"}, nil)

	got, err := svc.GetCanvas(context.Background(), "tenant-a", canvas.GetCanvasRequest{ProjectID: "p1", RefID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, refs.CanvasSourceDraft, got.Source)
	require.Equal(t, "draft text", got.Content)
}

func TestGetCanvas_FallsBackToArtefact(t *testing.T) {
	svc, _, ar, _, _ := newService(t)
	ar.On("GetDraft", mock.Anything, "tenant-a", "p1", "r1", "u1").Return(nil, repository.ErrNotFound)
	ar.On("LatestArtefactForRef", mock.Anything, "tenant-a", "r1").
		Return(&refs.Artefact{Content: "saved text", ContentHash: "h2"}, nil)

	got, err := svc.GetCanvas(context.Background(), "tenant-a", canvas.GetCanvasRequest{ProjectID: "p1", RefID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, refs.CanvasSourceArtefact, got.Source)
}

func TestGetCanvas_EmptyWhenNeitherExists(t *testing.T) {
	svc, _, ar, _, _ := newService(t)
	ar.On("GetDraft", mock.Anything, "tenant-a", "p1", "r1", "u1").Return(nil, repository.ErrNotFound)
	ar.On("LatestArtefactForRef", mock.Anything, "tenant-a", "r1").Return(nil, repository.ErrNotFound)

	got, err := svc.GetCanvas(context.Background(), "tenant-a", canvas.GetCanvasRequest{ProjectID: "p1", RefID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, refs.CanvasSourceEmpty, got.Source)
}

func TestUpdateArtefact_RefusesNonTrunk(t *testing.T) {
	svc, rr, _, _, _ := newService(t)
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(&refs.Ref{ID: "r1", Name: "feature"}, nil)

	_, err := svc.UpdateArtefact(context.Background(), "tenant-a", canvas.UpdateArtefactRequest{
		ProjectID: "p1", RefID: "r1", Content: "x", CreatedBy: "u1",
	})
	require.ErrorIs(t, err, canvas.ErrNotTrunk)
}

func TestUpdateArtefact_SavesOnTrunk(t *testing.T) {
	svc, rr, _, lg, act := newService(t)
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(&refs.Ref{ID: "r1", Name: refs.TrunkName}, nil)
	lg.On("UpdateArtefact", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.UpdateArtefactInput) bool {
		return in.WithStateNode && in.Content == "new content"
	})).Return(&repository.UpdateArtefactResult{CommitID: "c1", ArtefactID: "a1", StateNodeID: "s1", Ordinal: 2, ContentHash: "h3"}, nil)
	act.On("Log", mock.Anything, "tenant-a", mock.AnythingOfType("*repository.ActivityEntry")).Return(nil)

	res, err := svc.UpdateArtefact(context.Background(), "tenant-a", canvas.UpdateArtefactRequest{
		ProjectID: "p1", RefID: "r1", Content: "new content", CreatedBy: "u1",
	})
	require.NoError(t, err)
	require.Equal(t, "a1", res.ArtefactID)
	require.Equal(t, int64(2), res.Ordinal)
}
