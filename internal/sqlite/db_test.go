package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// NewTestDB opens an in-memory database and applies the schema migration,
// failing the test immediately on any error.
func NewTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := NewTestDB(t)
	tables := []string{
		"projects", "project_members", "commits", "nodes", "refs",
		"artefacts", "artefact_drafts", "ref_leases", "activity_log",
		"node_stars", "project_user_prefs", "api_keys",
	}
	for _, tbl := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, tbl).Scan(&name)
		require.NoError(t, err, "table %s should exist", tbl)
	}
}

func TestForeignKeys(t *testing.T) {
	db := NewTestDB(t)
	var fkEnabled int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fkEnabled))
	require.Equal(t, 1, fkEnabled)
}

func seedProject(t *testing.T, db *DB) *refs.Project {
	t.Helper()
	ctx := context.Background()
	p := &refs.Project{ID: uuid.NewString(), Name: "test project", OwnerID: "u1", CreatedAt: time.Now()}
	require.NoError(t, NewProjectStore(db).Create(ctx, "tenant-a", p))
	return p
}

func TestProjectsTable(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewProjectStore(db)

	p := seedProject(t, db)
	got, err := store.Get(ctx, "tenant-a", p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Name, got.Name)

	_, err = store.Get(ctx, "tenant-a", "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRefsAndCommitsTables(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)

	refStore := NewRefStore(db)
	r := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", r))

	// duplicate name in same project conflicts
	dup := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, TipOrdinal: -1, CreatedAt: time.Now()}
	err := refStore.Create(ctx, "tenant-a", dup)
	require.ErrorIs(t, err, repository.ErrConflict)

	// foreign key violation on unknown project
	orphan := &refs.Ref{ID: uuid.NewString(), ProjectID: "missing-project", Name: "other", TipOrdinal: -1, CreatedAt: time.Now()}
	err = refStore.Create(ctx, "tenant-a", orphan)
	require.ErrorIs(t, err, repository.ErrForeignKeyViolation)

	ledger := NewLedgerStore(db)
	res, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: r.ID,
		Node: refs.Node{Role: refs.RoleUser, Content: "hi", Kind: refs.KindMessage, CreatedBy: "u1"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Ordinal)

	got, err := refStore.Get(ctx, "tenant-a", r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.TipOrdinal)
	require.NotNil(t, got.TipCommitID)
	require.Equal(t, res.CommitID, *got.TipCommitID)
}

func TestNodesTableCheckConstraints(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	refStore := NewRefStore(db)
	ledger := NewLedgerStore(db)

	r := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", r))

	// a message node without a role violates the CHECK constraint
	_, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: r.ID,
		Node: refs.Node{Kind: refs.KindMessage, CreatedBy: "u1"},
	})
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	res, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: r.ID,
		Node: refs.Node{Kind: refs.KindMessage, Role: refs.RoleUser, Content: "hi", CreatedBy: "u1"},
	})
	require.NoError(t, err)

	got, err := ledger.GetNode(ctx, "tenant-a", res.NodeID)
	require.NoError(t, err)
	require.Equal(t, "hi", got.Content)
}

func TestHistoryFollowsCommitOrder(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	refStore := NewRefStore(db)
	ledger := NewLedgerStore(db)

	r := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", r))

	for i := 0; i < 3; i++ {
		_, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
			ProjectID: p.ID, RefID: r.ID,
			Node: refs.Node{Kind: refs.KindMessage, Role: refs.RoleUser, Content: "step", CreatedBy: "u1"},
		})
		require.NoError(t, err)
	}

	hist, err := ledger.History(ctx, "tenant-a", r.ID, repository.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, int64(0), hist[0].Ordinal)
	require.Equal(t, int64(2), hist[2].Ordinal)

	paged, err := ledger.History(ctx, "tenant-a", r.ID, repository.HistoryOptions{Limit: 1, BeforeOrdinal: int64Ptr(2)})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, int64(1), paged[0].Ordinal)

	count, err := ledger.NodeCount(ctx, "tenant-a", r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestLeaseAcquireRefreshRelease(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	refStore := NewRefStore(db)
	leases := NewLeaseStore(db)

	r := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", r))

	l := &repository.Lease{ProjectID: p.ID, RefID: r.ID, UserID: "u1", SessionID: "s1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, leases.Acquire(ctx, "tenant-a", l))

	// a different user conflicts
	conflicting := &repository.Lease{ProjectID: p.ID, RefID: r.ID, UserID: "u2", SessionID: "s2", ExpiresAt: time.Now().Add(time.Minute)}
	err := leases.Acquire(ctx, "tenant-a", conflicting)
	require.ErrorIs(t, err, repository.ErrConflict)

	// a second session of the same user also conflicts: it must not steal the lease
	sameUserOtherSession := &repository.Lease{ProjectID: p.ID, RefID: r.ID, UserID: "u1", SessionID: "s1b", ExpiresAt: time.Now().Add(time.Minute)}
	err = leases.Acquire(ctx, "tenant-a", sameUserOtherSession)
	require.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, leases.Refresh(ctx, "tenant-a", p.ID, r.ID, "u1", "s1", time.Now().Add(2*time.Minute)))

	// releasing from a session that doesn't hold the lease is a no-op
	require.NoError(t, leases.Release(ctx, "tenant-a", p.ID, r.ID, "s2", false))
	_, err = leases.Get(ctx, "tenant-a", p.ID, r.ID)
	require.NoError(t, err)

	require.NoError(t, leases.Release(ctx, "tenant-a", p.ID, r.ID, "s1", false))
	_, err = leases.Get(ctx, "tenant-a", p.ID, r.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func int64Ptr(v int64) *int64 { return &v }

func TestTrunkCannotBeRenamedOrDeleted(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	refStore := NewRefStore(db)

	trunk := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: refs.TrunkName, TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", trunk))

	other := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: "feature", TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", other))

	err := refStore.Rename(ctx, "tenant-a", trunk.ID, "renamed")
	require.ErrorIs(t, err, repository.ErrTrunkImmutable)

	err = refStore.Delete(ctx, "tenant-a", trunk.ID)
	require.ErrorIs(t, err, repository.ErrTrunkImmutable)

	require.NoError(t, refStore.Rename(ctx, "tenant-a", other.ID, "renamed-feature"))
}

func TestPinnedRefCannotBeDeleted(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	refStore := NewRefStore(db)

	r := &refs.Ref{ID: uuid.NewString(), ProjectID: p.ID, Name: "feature", TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, refStore.Create(ctx, "tenant-a", r))
	require.NoError(t, refStore.SetPinned(ctx, "tenant-a", r.ID, true))

	err := refStore.Delete(ctx, "tenant-a", r.ID)
	require.ErrorIs(t, err, repository.ErrRefPinned)

	require.NoError(t, refStore.SetPinned(ctx, "tenant-a", r.ID, false))
	require.NoError(t, refStore.Delete(ctx, "tenant-a", r.ID))
}
