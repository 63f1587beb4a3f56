package repository

import (
	"context"
	"time"

	"github.com/loomhq/loom/internal/domain/refs"
)

// ProjectRepository persists projects and their member enrollment.
type ProjectRepository interface {
	Create(ctx context.Context, tenantID string, p *refs.Project) error
	Get(ctx context.Context, tenantID, projectID string) (*refs.Project, error)
	GetDefault(ctx context.Context, tenantID string) (*refs.Project, error)
	List(ctx context.Context, tenantID string) ([]refs.Project, error)
	AddMember(ctx context.Context, tenantID, projectID, userID string) error
	IsMember(ctx context.Context, tenantID, projectID, userID string) (bool, error)
}

// ListRefsOptions filters RefRepository.List.
type ListRefsOptions struct {
	IncludePinned bool
}

// RefRepository persists refs (branches) and their mutable tip pointer. Tip
// advancement itself is transactional with the commit/node/commit_order
// writes that cause it, so it lives on LedgerRepository instead of here.
type RefRepository interface {
	Create(ctx context.Context, tenantID string, r *refs.Ref) error
	Get(ctx context.Context, tenantID, refID string) (*refs.Ref, error)
	GetByName(ctx context.Context, tenantID, projectID, name string) (*refs.Ref, error)
	List(ctx context.Context, tenantID, projectID string, opts ListRefsOptions) ([]refs.RefSummary, error)
	Rename(ctx context.Context, tenantID, refID, newName string) error
	SetPinned(ctx context.Context, tenantID, refID string, pinned bool) error
	SetProviderBinding(ctx context.Context, tenantID, refID, provider, model string, previousResponseID *string) error
	Delete(ctx context.Context, tenantID, refID string) error
}

// AppendNodeInput is the transactional input to LedgerRepository.AppendNode.
type AppendNodeInput struct {
	ProjectID   string
	RefID       string
	Node        refs.Node
	AttachDraft bool
	DraftUserID string
}

// AppendNodeResult reports what AppendNode actually wrote.
type AppendNodeResult struct {
	CommitID      string
	NodeID        string
	Ordinal       int64
	ArtefactID    string
	ArtefactHash  string
	ArtefactAdded bool
}

// MergeOursInput is the transactional input to LedgerRepository.MergeOurs.
type MergeOursInput struct {
	ProjectID   string
	TargetRefID string
	SourceRefID string
	MergeNode   refs.Node
}

// MergeOursResult reports the commit and ordinal the merge produced on the target ref.
type MergeOursResult struct {
	CommitID string
	NodeID   string
	Ordinal  int64
}

// CreateRefFromRefInput allocates a new ref that shares its source's full
// commit_order prefix.
type CreateRefFromRefInput struct {
	ProjectID          string
	SourceRefID        string
	NewRefID           string
	NewName            string
	Provider           string
	Model              string
	PreviousResponseID *string
}

// CreateRefFromNodeInput allocates a new ref truncated at a specific node's
// parent commit.
type CreateRefFromNodeInput struct {
	ProjectID          string
	SourceRefID        string
	NewRefID           string
	NewName            string
	NodeID             string
	Provider           string
	Model              string
	PreviousResponseID *string
}

// CreateRefFromNodeResult reports where the truncated ref's tip landed.
type CreateRefFromNodeResult struct {
	Ref         refs.Ref
	BaseCommit  *string
	BaseOrdinal int64
}

// LedgerRepository persists the append-only commit/node DAG and the
// per-ref commit_order linearization shared by every ref, and owns every
// operation that advances a ref's tip — each such operation is one
// transaction spanning commits, nodes, ref_commits, and refs.
type LedgerRepository interface {
	AppendNode(ctx context.Context, tenantID string, in AppendNodeInput) (*AppendNodeResult, error)
	UpdateArtefact(ctx context.Context, tenantID string, in UpdateArtefactInput) (*UpdateArtefactResult, error)
	MergeOurs(ctx context.Context, tenantID string, in MergeOursInput) (*MergeOursResult, error)
	CreateRefFromRef(ctx context.Context, tenantID string, in CreateRefFromRefInput) (*refs.Ref, error)
	CreateRefFromNode(ctx context.Context, tenantID string, in CreateRefFromNodeInput) (*CreateRefFromNodeResult, error)

	GetNode(ctx context.Context, tenantID, nodeID string) (*refs.Node, error)
	// GetNodeByCommit looks up the node attached to a commit, used to resolve
	// the node whose response_id lineage a new branch inherits.
	GetNodeByCommit(ctx context.Context, tenantID, commitID string) (*refs.Node, error)
	GetCommit(ctx context.Context, tenantID, commitID string) (*refs.Commit, error)
	// History returns a ref's commit_order-ordered nodes, oldest first:
	// opts.Limit bounds how many nodes
	// are returned, opts.BeforeOrdinal pages strictly before a given ordinal,
	// and opts.IncludeRawResponse gates whether raw provider payloads are
	// included on returned nodes.
	History(ctx context.Context, tenantID, refID string, opts HistoryOptions) ([]refs.HistoryEntry, error)
	NodeCount(ctx context.Context, tenantID, refID string) (int64, error)
	// SourceNodesSinceDivergence walks sourceRefID's commit_order backward to
	// the last commit shared with targetRefID and returns the node ids on the
	// strictly younger source commits.
	SourceNodesSinceDivergence(ctx context.Context, tenantID, sourceRefID, targetRefID string) ([]string, error)
}

// HistoryOptions parameterizes LedgerRepository.History.
type HistoryOptions struct {
	// Limit caps how many of the ref's most recent nodes are returned.
	// Zero means no cap.
	Limit int
	// BeforeOrdinal, when set, restricts results to nodes with an ordinal
	// strictly less than this value, enabling paging past the most recent
	// Limit nodes.
	BeforeOrdinal *int64
	// IncludeRawResponse controls whether a node's raw provider payload is
	// included in the result; by default it is stripped.
	IncludeRawResponse bool
}

// UpdateArtefactInput is the transactional input to LedgerRepository.UpdateArtefact.
type UpdateArtefactInput struct {
	ProjectID      string
	RefID          string
	Content        string
	Kind           refs.ArtefactKind
	WithStateNode  bool
	StateNodeID    string
	CreatedBy      string
}

// UpdateArtefactResult reports what UpdateArtefact wrote.
type UpdateArtefactResult struct {
	CommitID    string
	ArtefactID  string
	StateNodeID string
	Ordinal     int64
	ContentHash string
}

// ArtefactRepository persists immutable canvas artefacts and their mutable drafts.
type ArtefactRepository interface {
	InsertArtefact(ctx context.Context, tenantID string, a *refs.Artefact) error
	GetArtefactByCommit(ctx context.Context, tenantID, commitID string) (*refs.Artefact, error)
	LatestArtefactForRef(ctx context.Context, tenantID, refID string) (*refs.Artefact, error)
	UpsertDraft(ctx context.Context, tenantID string, d *refs.ArtefactDraft) error
	GetDraft(ctx context.Context, tenantID, projectID, refID, userID string) (*refs.ArtefactDraft, error)
	DeleteDraft(ctx context.Context, tenantID, projectID, refID, userID string) error
}

// Lease is a TTL'd exclusive writer lock on a (project, ref) pair.
type Lease struct {
	ProjectID string
	RefID     string
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// LeaseRepository persists the durable half of the ref-lock manager; the
// in-process mutex map in internal/domain/lease is the fast half. Holder
// identity is the (userID, sessionID) pair: Refresh/Release are scoped to
// the session that holds the lease, not merely the user, so a second
// session from the same user cannot refresh or release a lease it does not
// itself hold.
type LeaseRepository interface {
	Acquire(ctx context.Context, tenantID string, l *Lease) error
	Refresh(ctx context.Context, tenantID, projectID, refID, userID, sessionID string, newExpiry time.Time) error
	// Release deletes the lease row held by (projectID, refID) if sessionID
	// matches its current holder. If force is true, the lease is deleted
	// regardless of holder. Releasing a lease the caller does not hold is a
	// no-op: it never returns ErrNotFound.
	Release(ctx context.Context, tenantID, projectID, refID, sessionID string, force bool) error
	Get(ctx context.Context, tenantID, projectID, refID string) (*Lease, error)
	List(ctx context.Context, tenantID, projectID string) ([]Lease, error)
}

// ActivityType enumerates the kinds of diagnostic events the activity log records.
type ActivityType string

const (
	ActivityNodeAppended   ActivityType = "node_appended"
	ActivityRefCreated     ActivityType = "ref_created"
	ActivityRefMerged      ActivityType = "ref_merged"
	ActivityLeaseAcquired  ActivityType = "lease_acquired"
	ActivityLeasePreempted ActivityType = "lease_preempted"
	ActivityCanvasSaved    ActivityType = "canvas_saved"
)

// ActivityEntry is one row in the append-only diagnostic activity log.
type ActivityEntry struct {
	ID        string
	ProjectID string
	RefID     string
	Type      ActivityType
	UserID    string
	Detail    string
	CreatedAt time.Time
}

// ListActivityOptions filters ActivityRepository.List.
type ListActivityOptions struct {
	RefID string
	Limit int
}

// ActivityRepository persists the append-only diagnostic activity log.
type ActivityRepository interface {
	Log(ctx context.Context, tenantID string, e *ActivityEntry) error
	List(ctx context.Context, tenantID, projectID string, opts ListActivityOptions) ([]ActivityEntry, error)
}

// StarRepository persists the user-mutable star relation over nodes. Stars
// are not provenance: they never create commits and never appear in history.
type StarRepository interface {
	// Toggle flips the caller's star on a node and reports the new state.
	Toggle(ctx context.Context, tenantID, userID, nodeID string) (starred bool, err error)
	ListStarred(ctx context.Context, tenantID, userID, projectID string) ([]string, error)
}

// UserPrefsRepository persists the per-user "current ref" preference.
type UserPrefsRepository interface {
	SetCurrentRef(ctx context.Context, tenantID, userID, projectID, refID string) error
	GetCurrentRef(ctx context.Context, tenantID, userID, projectID string) (string, error)
}
