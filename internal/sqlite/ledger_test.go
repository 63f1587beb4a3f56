package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

func seedRef(t *testing.T, db *DB, projectID, name string) *refs.Ref {
	t.Helper()
	r := &refs.Ref{ID: uuid.NewString(), ProjectID: projectID, Name: name, TipOrdinal: -1, CreatedAt: time.Now()}
	require.NoError(t, NewRefStore(db).Create(context.Background(), "tenant-a", r))
	return r
}

func appendMessage(t *testing.T, ledger *LedgerStore, projectID, refID string, role refs.Role, content string) *repository.AppendNodeResult {
	t.Helper()
	res, err := ledger.AppendNode(context.Background(), "tenant-a", repository.AppendNodeInput{
		ProjectID: projectID, RefID: refID,
		Node: refs.Node{Kind: refs.KindMessage, Role: role, Content: content, CreatedBy: "u1"},
	})
	require.NoError(t, err)
	return res
}

func refCommitOrder(t *testing.T, db *DB, refID string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT commit_id FROM ref_commits WHERE tenant_id = 'tenant-a' AND ref_id = ? ORDER BY ordinal ASC`, refID)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		out = append(out, id)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestCreateRefFromRef_CopiesFullCommitOrderPrefix(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleUser, "one")
	appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleAssistant, "two")

	forked, err := ledger.CreateRefFromRef(ctx, "tenant-a", repository.CreateRefFromRefInput{
		ProjectID: p.ID, SourceRefID: trunk.ID,
		NewRefID: uuid.NewString(), NewName: "fork",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), forked.TipOrdinal)

	require.Equal(t, refCommitOrder(t, db, trunk.ID), refCommitOrder(t, db, forked.ID))

	// Appends after the fork diverge the two refs without touching the source.
	appendMessage(t, ledger, p.ID, forked.ID, refs.RoleUser, "three")
	trunkAfter, err := NewRefStore(db).Get(ctx, "tenant-a", trunk.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), trunkAfter.TipOrdinal)
	require.Len(t, refCommitOrder(t, db, forked.ID), 3)
}

func TestCreateRefFromNode_TruncatesAtParentCommit(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	userTurn := appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleUser, "question")
	assistantTurn := appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleAssistant, "answer")

	res, err := ledger.CreateRefFromNode(ctx, "tenant-a", repository.CreateRefFromNodeInput{
		ProjectID: p.ID, SourceRefID: trunk.ID,
		NewRefID: uuid.NewString(), NewName: "retry", NodeID: assistantTurn.NodeID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.BaseOrdinal)
	require.NotNil(t, res.BaseCommit)
	require.Equal(t, userTurn.CommitID, *res.BaseCommit)
	require.Equal(t, []string{userTurn.CommitID}, refCommitOrder(t, db, res.Ref.ID))
}

func TestCreateRefFromNode_FirstNodeYieldsEmptyRef(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	first := appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleUser, "first")

	res, err := ledger.CreateRefFromNode(ctx, "tenant-a", repository.CreateRefFromNodeInput{
		ProjectID: p.ID, SourceRefID: trunk.ID,
		NewRefID: uuid.NewString(), NewName: "from-scratch", NodeID: first.NodeID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-1), res.BaseOrdinal)
	require.Nil(t, res.BaseCommit)
	require.Equal(t, int64(-1), res.Ref.TipOrdinal)
	require.Empty(t, refCommitOrder(t, db, res.Ref.ID))
}

func TestMergeOurs_TwoParentCommitWithOrderedSourceNodes(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	shared := appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleUser, "shared")

	forked, err := ledger.CreateRefFromRef(ctx, "tenant-a", repository.CreateRefFromRefInput{
		ProjectID: p.ID, SourceRefID: trunk.ID,
		NewRefID: uuid.NewString(), NewName: "q1",
	})
	require.NoError(t, err)

	sideUser := appendMessage(t, ledger, p.ID, forked.ID, refs.RoleUser, "branch question")
	sideAssistant := appendMessage(t, ledger, p.ID, forked.ID, refs.RoleAssistant, "branch answer")

	exclusive, err := ledger.SourceNodesSinceDivergence(ctx, "tenant-a", forked.ID, trunk.ID)
	require.NoError(t, err)
	require.Equal(t, []string{sideUser.NodeID, sideAssistant.NodeID}, exclusive)

	mergeFromID := forked.ID
	merged, err := ledger.MergeOurs(ctx, "tenant-a", repository.MergeOursInput{
		ProjectID: p.ID, TargetRefID: trunk.ID, SourceRefID: forked.ID,
		MergeNode: refs.Node{
			Kind: refs.KindMerge, CreatedBy: "u1",
			MergeFromRefID: &mergeFromID, MergeFrom: "q1",
			MergeSummary: "carry answer", SourceNodeIDs: exclusive,
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), merged.Ordinal)

	commit, err := ledger.GetCommit(ctx, "tenant-a", merged.CommitID)
	require.NoError(t, err)
	require.NotNil(t, commit.Parent1)
	require.Equal(t, shared.CommitID, *commit.Parent1)
	require.NotNil(t, commit.Parent2)
	require.Equal(t, sideAssistant.CommitID, *commit.Parent2)

	node, err := ledger.GetNodeByCommit(ctx, "tenant-a", merged.CommitID)
	require.NoError(t, err)
	require.Equal(t, refs.KindMerge, node.Kind)
	require.Equal(t, "carry answer", node.MergeSummary)
	require.Equal(t, exclusive, node.SourceNodeIDs)

	// Merging again records a second, distinct merge commit (no dedup).
	merged2, err := ledger.MergeOurs(ctx, "tenant-a", repository.MergeOursInput{
		ProjectID: p.ID, TargetRefID: trunk.ID, SourceRefID: forked.ID,
		MergeNode: refs.Node{Kind: refs.KindMerge, CreatedBy: "u1", MergeFromRefID: &mergeFromID, MergeFrom: "q1", MergeSummary: "again"},
	})
	require.NoError(t, err)
	require.NotEqual(t, merged.CommitID, merged2.CommitID)
	require.Equal(t, int64(2), merged2.Ordinal)

	// Source ref history is untouched.
	require.Len(t, refCommitOrder(t, db, forked.ID), 3)
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestAppendNode_PromotesChangedDraftOnce(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	artefacts := NewArtefactStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	const draftContent = "# Plan\nA"
	require.NoError(t, artefacts.UpsertDraft(ctx, "tenant-a", &refs.ArtefactDraft{
		ProjectID: p.ID, RefID: trunk.ID, UserID: "u1",
		Content: draftContent, ContentHash: sha256Hex(draftContent), UpdatedAt: time.Now(),
	}))

	res, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: trunk.ID,
		Node:        refs.Node{Kind: refs.KindMessage, Role: refs.RoleUser, Content: "ok", CreatedBy: "u1"},
		AttachDraft: true, DraftUserID: "u1",
	})
	require.NoError(t, err)
	require.True(t, res.ArtefactAdded)
	require.Equal(t, sha256Hex(draftContent), res.ArtefactHash)

	// The artefact landed on the same commit as the message node.
	a, err := artefacts.GetArtefactByCommit(ctx, "tenant-a", res.CommitID)
	require.NoError(t, err)
	require.Equal(t, draftContent, a.Content)

	// The assistant turn of the same exchange attaches no draft.
	res2, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: trunk.ID,
		Node: refs.Node{Kind: refs.KindMessage, Role: refs.RoleAssistant, Content: "done", CreatedBy: "u1"},
	})
	require.NoError(t, err)
	require.False(t, res2.ArtefactAdded)

	// An unchanged draft is not promoted again on the next turn.
	res3, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: trunk.ID,
		Node:        refs.Node{Kind: refs.KindMessage, Role: refs.RoleUser, Content: "more", CreatedBy: "u1"},
		AttachDraft: true, DraftUserID: "u1",
	})
	require.NoError(t, err)
	require.False(t, res3.ArtefactAdded)

	// A changed draft is.
	const updated = "# Plan\nB"
	require.NoError(t, artefacts.UpsertDraft(ctx, "tenant-a", &refs.ArtefactDraft{
		ProjectID: p.ID, RefID: trunk.ID, UserID: "u1",
		Content: updated, ContentHash: sha256Hex(updated), UpdatedAt: time.Now(),
	}))
	res4, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: trunk.ID,
		Node:        refs.Node{Kind: refs.KindMessage, Role: refs.RoleUser, Content: "again", CreatedBy: "u1"},
		AttachDraft: true, DraftUserID: "u1",
	})
	require.NoError(t, err)
	require.True(t, res4.ArtefactAdded)
	require.Equal(t, sha256Hex(updated), res4.ArtefactHash)
}

func TestUpdateArtefact_InsertsStateNodeAndAdvancesTip(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	res, err := ledger.UpdateArtefact(ctx, "tenant-a", repository.UpdateArtefactInput{
		ProjectID: p.ID, RefID: trunk.ID, Content: "canvas v1",
		Kind: refs.KindCanvasMarkdown, WithStateNode: true, CreatedBy: "u1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Ordinal)
	require.Equal(t, sha256Hex("canvas v1"), res.ContentHash)
	require.NotEmpty(t, res.StateNodeID)

	node, err := ledger.GetNode(ctx, "tenant-a", res.StateNodeID)
	require.NoError(t, err)
	require.Equal(t, refs.KindState, node.Kind)
	require.Equal(t, res.ContentHash, node.ArtefactSnapshot)

	latest, err := NewArtefactStore(db).LatestArtefactForRef(ctx, "tenant-a", trunk.ID)
	require.NoError(t, err)
	require.Equal(t, "canvas v1", latest.Content)
}

func TestHistory_StripsRawResponseByDefault(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	_, err := ledger.AppendNode(ctx, "tenant-a", repository.AppendNodeInput{
		ProjectID: p.ID, RefID: trunk.ID,
		Node: refs.Node{
			Kind: refs.KindMessage, Role: refs.RoleAssistant, Content: "hi",
			RawResponse: []byte(`{"provider":"opaque"}`), CreatedBy: "u1",
		},
	})
	require.NoError(t, err)

	plain, err := ledger.History(ctx, "tenant-a", trunk.ID, repository.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, plain, 1)
	require.Nil(t, plain[0].Node.RawResponse)
	require.Equal(t, refs.TrunkName, plain[0].CreatedOnRef)

	raw, err := ledger.History(ctx, "tenant-a", trunk.ID, repository.HistoryOptions{IncludeRawResponse: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"provider":"opaque"}`, string(raw[0].Node.RawResponse))
}

func TestCommitOrderOrdinalsAreDense(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, db)
	ledger := NewLedgerStore(db)
	trunk := seedRef(t, db, p.ID, refs.TrunkName)

	for i := 0; i < 5; i++ {
		appendMessage(t, ledger, p.ID, trunk.ID, refs.RoleUser, "turn")
	}

	hist, err := ledger.History(ctx, "tenant-a", trunk.ID, repository.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, hist, 5)
	for i, entry := range hist {
		require.Equal(t, int64(i), entry.Ordinal)
	}

	trunkAfter, err := NewRefStore(db).Get(ctx, "tenant-a", trunk.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), trunkAfter.TipOrdinal)
}
