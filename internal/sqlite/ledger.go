package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/repository"
)

// LedgerStore implements repository.LedgerRepository: the append-only
// commit/node DAG and the per-ref commit_order linearization shared by
// every ref, plus every transaction that advances a ref's tip.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore constructs a LedgerStore over an open database.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// maxOrdinal returns the highest ordinal recorded for a ref, or -1 if the
// ref has no commit_order rows yet.
func maxOrdinal(ctx context.Context, tx *sql.Tx, tenantID, refID string) (int64, error) {
	var ordinal sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(ordinal) FROM ref_commits WHERE tenant_id = ? AND ref_id = ?`, tenantID, refID).Scan(&ordinal)
	if err != nil {
		return 0, fmt.Errorf("sqlite: read max ordinal: %w", err)
	}
	if !ordinal.Valid {
		return -1, nil
	}
	return ordinal.Int64, nil
}

func refTip(ctx context.Context, tx *sql.Tx, tenantID, refID string) (tip sql.NullString, err error) {
	err = tx.QueryRowContext(ctx, `SELECT tip_commit_id FROM refs WHERE tenant_id = ? AND id = ?`, tenantID, refID).Scan(&tip)
	if err == sql.ErrNoRows {
		return tip, repository.ErrNotFound
	}
	return tip, err
}

func insertCommitTx(ctx context.Context, tx *sql.Tx, tenantID, projectID, commitID string, parent1, parent2 *string, message, author string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commits (id, tenant_id, project_id, parent1, parent2, message, author)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		commitID, tenantID, projectID, parent1, parent2, message, author)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("sqlite: insert commit: %w", err)
	}
	return nil
}

func insertNodeTx(ctx context.Context, tx *sql.Tx, tenantID string, n *refs.Node) error {
	var blocksJSON, sourceIDsJSON []byte
	var err error
	if len(n.ContentBlocks) > 0 {
		if blocksJSON, err = json.Marshal(n.ContentBlocks); err != nil {
			return fmt.Errorf("sqlite: marshal content blocks: %w", err)
		}
	}
	if len(n.SourceNodeIDs) > 0 {
		if sourceIDsJSON, err = json.Marshal(n.SourceNodeIDs); err != nil {
			return fmt.Errorf("sqlite: marshal source node ids: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (
			id, tenant_id, project_id, commit_id, created_on_ref_id, kind, parent,
			timestamp, created_by,
			role, content, content_blocks, raw_response, response_id, interrupted, ui_hidden,
			artefact_snapshot,
			merge_from_ref_id, merge_from, merge_summary, source_commit, source_node_ids,
			merged_assistant_node_id, merged_assistant_content, canvas_diff
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, tenantID, n.ProjectID, n.CommitID, n.CreatedOnRefID, string(n.Kind), n.Parent,
		n.Timestamp, n.CreatedBy,
		nullableString(string(n.Role)), nullableString(n.Content), nullableBytes(blocksJSON),
		n.RawResponse, n.ResponseID, n.Interrupted, n.UIHidden,
		nullableString(n.ArtefactSnapshot),
		n.MergeFromRefID, nullableString(n.MergeFrom), nullableString(n.MergeSummary),
		nullableString(n.SourceCommitID), nullableBytes(sourceIDsJSON),
		n.MergedAssistantNodeID, n.MergedAssistantContent, n.CanvasDiff,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		if isCheckViolation(err) {
			return repository.ErrInvalidInput
		}
		return fmt.Errorf("sqlite: insert node: %w", err)
	}
	return nil
}

func insertRefCommitTx(ctx context.Context, tx *sql.Tx, tenantID, refID string, ordinal int64, commitID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ref_commits (tenant_id, ref_id, ordinal, commit_id) VALUES (?, ?, ?, ?)`,
		tenantID, refID, ordinal, commitID)
	if err != nil {
		return fmt.Errorf("sqlite: insert ref_commits row: %w", err)
	}
	return nil
}

func advanceRefTipTx(ctx context.Context, tx *sql.Tx, tenantID, refID, commitID string, ordinal int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE refs SET tip_commit_id = ?, tip_ordinal = ? WHERE tenant_id = ? AND id = ?`,
		commitID, ordinal, tenantID, refID)
	if err != nil {
		return fmt.Errorf("sqlite: advance ref tip: %w", err)
	}
	return requireRowsAffected(res, func() error { return repository.ErrNotFound })
}

// AppendNode appends one node to a ref: under the ref row, allocate the next
// ordinal, insert a commit parented on the current tip, insert the node,
// optionally promote the caller's draft into an artefact on the same
// commit, record the commit_order row, and advance the ref tip.
func (s *LedgerStore) AppendNode(ctx context.Context, tenantID string, in repository.AppendNodeInput) (*repository.AppendNodeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin append node: %w", err)
	}
	defer tx.Rollback()

	tip, err := refTip(ctx, tx, tenantID, in.RefID)
	if err != nil {
		return nil, err
	}
	ordinal, err := maxOrdinal(ctx, tx, tenantID, in.RefID)
	if err != nil {
		return nil, err
	}
	newOrdinal := ordinal + 1

	commitID := uuid.NewString()
	var parent1 *string
	if tip.Valid {
		parent1 = &tip.String
	}
	if err := insertCommitTx(ctx, tx, tenantID, in.ProjectID, commitID, parent1, nil, string(in.Node.Kind), in.Node.CreatedBy); err != nil {
		return nil, err
	}

	node := in.Node
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = time.Now()
	}
	node.ProjectID = in.ProjectID
	node.CommitID = commitID
	node.CreatedOnRefID = in.RefID
	if err := insertNodeTx(ctx, tx, tenantID, &node); err != nil {
		return nil, err
	}

	result := &repository.AppendNodeResult{CommitID: commitID, NodeID: node.ID, Ordinal: newOrdinal}

	if in.AttachDraft {
		var draft refs.ArtefactDraft
		err := tx.QueryRowContext(ctx, `
			SELECT content, content_hash FROM artefact_drafts
			WHERE tenant_id = ? AND project_id = ? AND ref_id = ? AND user_id = ?`,
			tenantID, in.ProjectID, in.RefID, in.DraftUserID).Scan(&draft.Content, &draft.ContentHash)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("sqlite: read draft for promotion: %w", err)
		}
		if err == nil {
			latestHash, latestErr := latestArtefactHashTx(ctx, tx, tenantID, in.RefID, refs.KindCanvasMarkdown)
			if latestErr != nil {
				return nil, latestErr
			}
			if latestHash != draft.ContentHash {
				artefactID := uuid.NewString()
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO artefacts (id, tenant_id, project_id, commit_id, kind, content, content_hash, origin_ref_id)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					artefactID, tenantID, in.ProjectID, commitID, string(refs.KindCanvasMarkdown),
					draft.Content, draft.ContentHash, in.RefID); err != nil {
					return nil, fmt.Errorf("sqlite: promote draft to artefact: %w", err)
				}
				result.ArtefactID = artefactID
				result.ArtefactHash = draft.ContentHash
				result.ArtefactAdded = true
			}
		}
	}

	if err := insertRefCommitTx(ctx, tx, tenantID, in.RefID, newOrdinal, commitID); err != nil {
		return nil, err
	}
	if err := advanceRefTipTx(ctx, tx, tenantID, in.RefID, commitID, newOrdinal); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit append node: %w", err)
	}
	return result, nil
}

func latestArtefactHashTx(ctx context.Context, tx *sql.Tx, tenantID, refID string, kind refs.ArtefactKind) (string, error) {
	var hash sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT a.content_hash FROM artefacts a
		JOIN ref_commits rc ON rc.tenant_id = a.tenant_id AND rc.commit_id = a.commit_id
		WHERE a.tenant_id = ? AND rc.ref_id = ? AND a.kind = ?
		ORDER BY rc.ordinal DESC LIMIT 1`, tenantID, refID, string(kind)).Scan(&hash)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("sqlite: read latest artefact hash: %w", err)
	}
	return hash.String, nil
}

// UpdateArtefact is the explicit canvas save: it always inserts an artefact
// on a new commit, and optionally a state node carrying the content hash.
func (s *LedgerStore) UpdateArtefact(ctx context.Context, tenantID string, in repository.UpdateArtefactInput) (*repository.UpdateArtefactResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin update artefact: %w", err)
	}
	defer tx.Rollback()

	tip, err := refTip(ctx, tx, tenantID, in.RefID)
	if err != nil {
		return nil, err
	}
	ordinal, err := maxOrdinal(ctx, tx, tenantID, in.RefID)
	if err != nil {
		return nil, err
	}
	newOrdinal := ordinal + 1

	sum := sha256.Sum256([]byte(in.Content))
	hash := hex.EncodeToString(sum[:])

	commitID := uuid.NewString()
	var parent1 *string
	if tip.Valid {
		parent1 = &tip.String
	}
	if err := insertCommitTx(ctx, tx, tenantID, in.ProjectID, commitID, parent1, nil, "canvas save", in.CreatedBy); err != nil {
		return nil, err
	}

	artefactID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artefacts (id, tenant_id, project_id, commit_id, kind, content, content_hash, origin_ref_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artefactID, tenantID, in.ProjectID, commitID, string(in.Kind), in.Content, hash, in.RefID); err != nil {
		return nil, fmt.Errorf("sqlite: insert explicit artefact: %w", err)
	}

	result := &repository.UpdateArtefactResult{CommitID: commitID, ArtefactID: artefactID, Ordinal: newOrdinal, ContentHash: hash}

	if in.WithStateNode {
		stateNodeID := in.StateNodeID
		if stateNodeID == "" {
			stateNodeID = uuid.NewString()
		}
		stateNode := refs.Node{
			ID: stateNodeID, ProjectID: in.ProjectID, CommitID: commitID, CreatedOnRefID: in.RefID,
			Kind: refs.KindState, CreatedBy: in.CreatedBy, ArtefactSnapshot: hash, Timestamp: time.Now(),
		}
		if err := insertNodeTx(ctx, tx, tenantID, &stateNode); err != nil {
			return nil, err
		}
		result.StateNodeID = stateNodeID
	}

	if err := insertRefCommitTx(ctx, tx, tenantID, in.RefID, newOrdinal, commitID); err != nil {
		return nil, err
	}
	if err := advanceRefTipTx(ctx, tx, tenantID, in.RefID, commitID, newOrdinal); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit update artefact: %w", err)
	}
	return result, nil
}

// MergeOurs records a structural merge: a 2-parent commit carrying a single
// merge node, advancing only the target ref. The source ref is untouched.
func (s *LedgerStore) MergeOurs(ctx context.Context, tenantID string, in repository.MergeOursInput) (*repository.MergeOursResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin merge ours: %w", err)
	}
	defer tx.Rollback()

	targetTip, err := refTip(ctx, tx, tenantID, in.TargetRefID)
	if err != nil {
		return nil, err
	}
	sourceTip, err := refTip(ctx, tx, tenantID, in.SourceRefID)
	if err != nil {
		return nil, err
	}
	ordinal, err := maxOrdinal(ctx, tx, tenantID, in.TargetRefID)
	if err != nil {
		return nil, err
	}
	newOrdinal := ordinal + 1

	commitID := uuid.NewString()
	var parent1, parent2 *string
	if targetTip.Valid {
		parent1 = &targetTip.String
	}
	if sourceTip.Valid {
		parent2 = &sourceTip.String
	}
	if err := insertCommitTx(ctx, tx, tenantID, in.ProjectID, commitID, parent1, parent2, "merge", in.MergeNode.CreatedBy); err != nil {
		return nil, err
	}

	node := in.MergeNode
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = time.Now()
	}
	node.Kind = refs.KindMerge
	node.ProjectID = in.ProjectID
	node.CommitID = commitID
	node.CreatedOnRefID = in.TargetRefID
	if err := insertNodeTx(ctx, tx, tenantID, &node); err != nil {
		return nil, err
	}

	if err := insertRefCommitTx(ctx, tx, tenantID, in.TargetRefID, newOrdinal, commitID); err != nil {
		return nil, err
	}
	if err := advanceRefTipTx(ctx, tx, tenantID, in.TargetRefID, commitID, newOrdinal); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit merge ours: %w", err)
	}
	return &repository.MergeOursResult{CommitID: commitID, NodeID: node.ID, Ordinal: newOrdinal}, nil
}

// CreateRefFromRef forks a ref at its current tip: the new ref copies the
// source's entire commit_order verbatim.
func (s *LedgerStore) CreateRefFromRef(ctx context.Context, tenantID string, in repository.CreateRefFromRefInput) (*refs.Ref, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin create ref from ref: %w", err)
	}
	defer tx.Rollback()

	var source refs.Ref
	var tip sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT project_id, tip_commit_id, tip_ordinal FROM refs WHERE tenant_id = ? AND id = ?`,
		tenantID, in.SourceRefID).Scan(&source.ProjectID, &tip, &source.TipOrdinal)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read source ref: %w", err)
	}

	newRef := refs.Ref{
		ID: in.NewRefID, ProjectID: source.ProjectID, Name: in.NewName,
		TipOrdinal: source.TipOrdinal, Provider: in.Provider, Model: in.Model,
		PreviousResponseID: in.PreviousResponseID,
	}
	if tip.Valid {
		newRef.TipCommitID = &tip.String
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refs (id, tenant_id, project_id, name, tip_commit_id, tip_ordinal, provider, model, previous_response_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newRef.ID, tenantID, newRef.ProjectID, newRef.Name, newRef.TipCommitID, newRef.TipOrdinal,
		newRef.Provider, newRef.Model, newRef.PreviousResponseID); err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("sqlite: insert new ref: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ref_commits (tenant_id, ref_id, ordinal, commit_id)
		SELECT tenant_id, ?, ordinal, commit_id FROM ref_commits WHERE tenant_id = ? AND ref_id = ?`,
		newRef.ID, tenantID, in.SourceRefID); err != nil {
		return nil, fmt.Errorf("sqlite: copy commit_order prefix: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit create ref from ref: %w", err)
	}
	return &newRef, nil
}

// CreateRefFromNode forks a ref at an earlier node: the new ref's history
// ends at the parent commit of that node on the source ref.
func (s *LedgerStore) CreateRefFromNode(ctx context.Context, tenantID string, in repository.CreateRefFromNodeInput) (*repository.CreateRefFromNodeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin create ref from node: %w", err)
	}
	defer tx.Rollback()

	var sourceProjectID, nodeCommitID string
	err = tx.QueryRowContext(ctx, `SELECT project_id, commit_id FROM nodes WHERE tenant_id = ? AND id = ?`, tenantID, in.NodeID).
		Scan(&sourceProjectID, &nodeCommitID)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read node for branch: %w", err)
	}

	var nodeOrdinal int64
	err = tx.QueryRowContext(ctx, `
		SELECT ordinal FROM ref_commits WHERE tenant_id = ? AND ref_id = ? AND commit_id = ?`,
		tenantID, in.SourceRefID, nodeCommitID).Scan(&nodeOrdinal)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read node ordinal on source ref: %w", err)
	}

	baseOrdinal := nodeOrdinal - 1
	var baseCommit *string
	if baseOrdinal >= 0 {
		var commitID string
		err = tx.QueryRowContext(ctx, `
			SELECT commit_id FROM ref_commits WHERE tenant_id = ? AND ref_id = ? AND ordinal = ?`,
			tenantID, in.SourceRefID, baseOrdinal).Scan(&commitID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: read base commit: %w", err)
		}
		baseCommit = &commitID
	}

	newRef := refs.Ref{
		ID: in.NewRefID, ProjectID: sourceProjectID, Name: in.NewName,
		TipCommitID: baseCommit, TipOrdinal: baseOrdinal,
		Provider: in.Provider, Model: in.Model, PreviousResponseID: in.PreviousResponseID,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refs (id, tenant_id, project_id, name, tip_commit_id, tip_ordinal, provider, model, previous_response_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newRef.ID, tenantID, newRef.ProjectID, newRef.Name, newRef.TipCommitID, newRef.TipOrdinal,
		newRef.Provider, newRef.Model, newRef.PreviousResponseID); err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("sqlite: insert truncated ref: %w", err)
	}

	if baseOrdinal >= 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ref_commits (tenant_id, ref_id, ordinal, commit_id)
			SELECT tenant_id, ?, ordinal, commit_id FROM ref_commits
			WHERE tenant_id = ? AND ref_id = ? AND ordinal <= ?`,
			newRef.ID, tenantID, in.SourceRefID, baseOrdinal); err != nil {
			return nil, fmt.Errorf("sqlite: copy truncated commit_order prefix: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit create ref from node: %w", err)
	}
	return &repository.CreateRefFromNodeResult{Ref: newRef, BaseCommit: baseCommit, BaseOrdinal: baseOrdinal}, nil
}

const nodeSelectColumns = `
	n.id, n.project_id, n.commit_id, n.created_on_ref_id, n.kind, n.parent, n.timestamp, n.created_by,
	n.role, n.content, n.content_blocks, n.raw_response, n.response_id, n.interrupted, n.ui_hidden,
	n.artefact_snapshot,
	n.merge_from_ref_id, n.merge_from, n.merge_summary, n.source_commit, n.source_node_ids,
	n.merged_assistant_node_id, n.merged_assistant_content, n.canvas_diff`

func scanNode(scan func(...any) error) (*refs.Node, error) {
	var n refs.Node
	var kind string
	var role, content, artefactSnapshot, mergeFrom, mergeSummary, sourceCommit sql.NullString
	var blocksJSON, sourceIDsJSON sql.NullString
	var responseID, mergeFromRefID, mergedAssistantNodeID, mergedAssistantContent, canvasDiff sql.NullString

	err := scan(
		&n.ID, &n.ProjectID, &n.CommitID, &n.CreatedOnRefID, &kind, &n.Parent, &n.Timestamp, &n.CreatedBy,
		&role, &content, &blocksJSON, &n.RawResponse, &responseID, &n.Interrupted, &n.UIHidden,
		&artefactSnapshot,
		&mergeFromRefID, &mergeFrom, &mergeSummary, &sourceCommit, &sourceIDsJSON,
		&mergedAssistantNodeID, &mergedAssistantContent, &canvasDiff,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan node: %w", err)
	}

	n.Kind = refs.NodeKind(kind)
	n.Role = refs.Role(role.String)
	n.Content = content.String
	n.ArtefactSnapshot = artefactSnapshot.String
	n.MergeFrom = mergeFrom.String
	n.MergeSummary = mergeSummary.String
	n.SourceCommitID = sourceCommit.String
	n.ResponseID = nullStringToPtr(responseID)
	n.MergeFromRefID = nullStringToPtr(mergeFromRefID)
	n.MergedAssistantNodeID = nullStringToPtr(mergedAssistantNodeID)
	n.MergedAssistantContent = nullStringToPtr(mergedAssistantContent)
	n.CanvasDiff = nullStringToPtr(canvasDiff)

	if blocksJSON.Valid && blocksJSON.String != "" {
		if err := json.Unmarshal([]byte(blocksJSON.String), &n.ContentBlocks); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal content blocks: %w", err)
		}
	}
	if sourceIDsJSON.Valid && sourceIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceIDsJSON.String), &n.SourceNodeIDs); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal source node ids: %w", err)
		}
	}
	return &n, nil
}

func (s *LedgerStore) GetNode(ctx context.Context, tenantID, nodeID string) (*refs.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeSelectColumns+` FROM nodes n WHERE n.tenant_id = ? AND n.id = ?`, tenantID, nodeID)
	return scanNode(row.Scan)
}

func (s *LedgerStore) GetNodeByCommit(ctx context.Context, tenantID, commitID string) (*refs.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeSelectColumns+` FROM nodes n WHERE n.tenant_id = ? AND n.commit_id = ?`, tenantID, commitID)
	return scanNode(row.Scan)
}

func (s *LedgerStore) GetCommit(ctx context.Context, tenantID, commitID string) (*refs.Commit, error) {
	var c refs.Commit
	var p1, p2 sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, parent1, parent2, message, author, created_at
		FROM commits WHERE tenant_id = ? AND id = ?`, tenantID, commitID).
		Scan(&c.ID, &c.ProjectID, &p1, &p2, &c.Message, &c.Author, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan commit: %w", err)
	}
	c.Parent1 = nullStringToPtr(p1)
	c.Parent2 = nullStringToPtr(p2)
	return &c, nil
}

// History returns a ref's commit_order-ordered nodes, oldest first.
// opts.Limit caps the number of entries
// returned; opts.BeforeOrdinal, when set, pages strictly before that
// ordinal instead of from the tip, letting a caller walk further back once
// it has consumed the most recent Limit nodes. opts.IncludeRawResponse
// gates whether a node's raw provider payload is included; by default it is
// stripped so get_history does not leak raw provider responses.
func (s *LedgerStore) History(ctx context.Context, tenantID, refID string, opts repository.HistoryOptions) ([]refs.HistoryEntry, error) {
	query := `
		SELECT rc.ordinal, origin.name, ` + nodeSelectColumns + `
		FROM ref_commits rc
		JOIN nodes n ON n.tenant_id = rc.tenant_id AND n.commit_id = rc.commit_id
		LEFT JOIN refs origin ON origin.tenant_id = n.tenant_id AND origin.id = n.created_on_ref_id
		WHERE rc.tenant_id = ? AND rc.ref_id = ?`
	args := []any{tenantID, refID}
	if opts.BeforeOrdinal != nil {
		query += ` AND rc.ordinal < ?`
		args = append(args, *opts.BeforeOrdinal)
	}
	query += ` ORDER BY rc.ordinal DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer rows.Close()

	var out []refs.HistoryEntry
	for rows.Next() {
		var ordinal int64
		var originName sql.NullString
		n, err := scanNode(func(dest ...any) error {
			return rows.Scan(append([]any{&ordinal, &originName}, dest...)...)
		})
		if err != nil {
			return nil, err
		}
		if !opts.IncludeRawResponse {
			n.RawResponse = nil
		}
		out = append(out, refs.HistoryEntry{
			Ordinal:      ordinal,
			Node:         *n,
			CreatedOnRef: originName.String,
			MergeFromRef: n.MergeFrom,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *LedgerStore) NodeCount(ctx context.Context, tenantID, refID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ref_commits WHERE tenant_id = ? AND ref_id = ?`, tenantID, refID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count nodes: %w", err)
	}
	return count, nil
}

// SourceNodesSinceDivergence walks sourceRefID's commit_order backward to the
// last commit shared with targetRefID and returns the node ids attached to
// the strictly younger source commits.
func (s *LedgerStore) SourceNodesSinceDivergence(ctx context.Context, tenantID, sourceRefID, targetRefID string) ([]string, error) {
	targetCommits := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT commit_id FROM ref_commits WHERE tenant_id = ? AND ref_id = ?`, tenantID, targetRefID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read target commit_order: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan target commit id: %w", err)
		}
		targetCommits[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterate target commit_order: %w", err)
	}
	rows.Close()

	srows, err := s.db.QueryContext(ctx, `
		SELECT commit_id FROM ref_commits WHERE tenant_id = ? AND ref_id = ? ORDER BY ordinal DESC`,
		tenantID, sourceRefID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read source commit_order: %w", err)
	}
	defer srows.Close()

	var divergentCommits []string
	for srows.Next() {
		var id string
		if err := srows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan source commit id: %w", err)
		}
		if targetCommits[id] {
			break
		}
		divergentCommits = append(divergentCommits, id)
	}
	if err := srows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate source commit_order: %w", err)
	}
	if len(divergentCommits) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(divergentCommits))
	args := make([]any, 0, len(divergentCommits)+2)
	args = append(args, tenantID, sourceRefID)
	for i, id := range divergentCommits {
		placeholders[i] = "?"
		args = append(args, id)
	}
	// Ordered by the source ref's ordinal so callers record the nodes in the
	// order they happened on the source branch.
	query := fmt.Sprintf(`
		SELECT n.id FROM nodes n
		JOIN ref_commits rc ON rc.tenant_id = n.tenant_id AND rc.commit_id = n.commit_id
		WHERE n.tenant_id = ? AND rc.ref_id = ? AND n.commit_id IN (%s)
		ORDER BY rc.ordinal ASC`, joinPlaceholders(placeholders))
	nrows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read divergent nodes: %w", err)
	}
	defer nrows.Close()

	var ids []string
	for nrows.Next() {
		var id string
		if err := nrows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan divergent node id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := nrows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate divergent nodes: %w", err)
	}
	return ids, nil
}

func joinPlaceholders(ph []string) string {
	out := ""
	for i, p := range ph {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
