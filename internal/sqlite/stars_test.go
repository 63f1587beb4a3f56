package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

func TestToggleStarFlipsState(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)
	stars := NewStarStore(db)

	turn := appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleAssistant, "starworthy")

	starred, err := stars.Toggle(ctx, "tenant-a", "u1", turn.NodeID)
	require.NoError(t, err)
	require.True(t, starred)

	ids, err := stars.ListStarred(ctx, "tenant-a", "u1", p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{turn.NodeID}, ids)

	// Stars are per user.
	other, err := stars.ListStarred(ctx, "tenant-a", "u2", p.ID)
	require.NoError(t, err)
	require.Empty(t, other)

	starred, err = stars.Toggle(ctx, "tenant-a", "u1", turn.NodeID)
	require.NoError(t, err)
	require.False(t, starred)

	ids, err = stars.ListStarred(ctx, "tenant-a", "u1", p.ID)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestToggleStarUnknownNode(t *testing.T) {
	db := NewTestDB(t)
	stars := NewStarStore(db)

	_, err := stars.Toggle(context.Background(), "tenant-a", "u1", "no-such-node")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
