package refs

import "time"

// NodeKind discriminates the tagged union of node variants.
type NodeKind string

const (
	KindMessage NodeKind = "message"
	KindState   NodeKind = "state"
	KindMerge   NodeKind = "merge"
)

// Role identifies who authored a message node.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlockType discriminates a typed content block inside a message.
type ContentBlockType string

const (
	BlockThinking          ContentBlockType = "thinking"
	BlockThinkingSignature ContentBlockType = "thinking_signature"
	BlockText              ContentBlockType = "text"
)

// ContentBlock is one typed block inside a message's structured content.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	Signature string           `json:"signature,omitempty"`
}

// Project is the top-level container for a set of refs sharing a commit DAG.
type Project struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref is a named, mutable pointer to a commit — the system's branch.
type Ref struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	Name              string  `json:"name"`
	TipCommitID       *string `json:"tip_commit_id,omitempty"`
	TipOrdinal        int64   `json:"tip_ordinal"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	PreviousResponseID *string `json:"previous_response_id,omitempty"`
	IsPinned          bool    `json:"is_pinned"`
	CreatedAt         time.Time `json:"created_at"`
}

// RefSummary is the lightweight projection returned by list_refs.
type RefSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	TipCommitID *string `json:"tip_commit_id,omitempty"`
	NodeCount   int64   `json:"node_count"`
	IsTrunk     bool    `json:"is_trunk"`
	IsPinned    bool    `json:"is_pinned"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// IsTrunk reports whether this ref is the project's privileged "main" ref.
func (r Ref) IsTrunk() bool {
	return r.Name == TrunkName
}

// TrunkName is the reserved display name for a project's trunk ref.
const TrunkName = "main"

// Commit is one node in the commit DAG.
type Commit struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Parent1   *string   `json:"parent1,omitempty"`
	Parent2   *string   `json:"parent2,omitempty"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is the tagged union over message/state/merge node variants.
type Node struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	CommitID        string    `json:"commit_id"`
	CreatedOnRefID  string    `json:"created_on_ref_id"`
	Kind            NodeKind  `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	CreatedBy       string    `json:"created_by"`
	Parent          *string   `json:"parent,omitempty"`

	// message fields
	Role           Role           `json:"role,omitempty"`
	Content        string         `json:"content,omitempty"`
	ContentBlocks  []ContentBlock `json:"content_blocks,omitempty"`
	RawResponse    []byte         `json:"raw_response,omitempty"`
	ResponseID     *string        `json:"response_id,omitempty"`
	Interrupted    bool           `json:"interrupted,omitempty"`
	UIHidden       bool           `json:"ui_hidden,omitempty"`

	// state fields
	ArtefactSnapshot string `json:"artefact_snapshot,omitempty"`

	// merge fields
	MergeFromRefID       *string  `json:"merge_from_ref_id,omitempty"`
	MergeFrom            string   `json:"merge_from,omitempty"`
	MergeSummary         string   `json:"merge_summary,omitempty"`
	SourceCommitID       string   `json:"source_commit,omitempty"`
	SourceNodeIDs        []string `json:"source_node_ids,omitempty"`
	MergedAssistantNodeID *string `json:"merged_assistant_node_id,omitempty"`
	MergedAssistantContent *string `json:"merged_assistant_content,omitempty"`
	CanvasDiff            *string `json:"canvas_diff,omitempty"`
}

// HistoryEntry pairs a node with its ordinal position on the ref it is read from.
type HistoryEntry struct {
	Ordinal        int64  `json:"ordinal"`
	Node           Node   `json:"node"`
	CreatedOnRef   string `json:"created_on_branch"`
	MergeFromRef   string `json:"merge_from_ref,omitempty"`
}

// ArtefactKind identifies which kind of canvas artefact a row holds.
type ArtefactKind string

// KindCanvasMarkdown is currently the only supported artefact kind.
const KindCanvasMarkdown ArtefactKind = "canvas_md"

// Artefact is an immutable canvas version tied to a commit.
type Artefact struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	CommitID      string       `json:"commit_id"`
	Kind          ArtefactKind `json:"kind"`
	Content       string       `json:"content"`
	ContentHash   string       `json:"content_hash"`
	OriginRefID   string       `json:"origin_ref_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ArtefactDraft is mutable per-(project,ref,user) editor buffer. Never part of history.
type ArtefactDraft struct {
	ProjectID   string    `json:"project_id"`
	RefID       string    `json:"ref_id"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CanvasSource describes where a resolved canvas view came from.
type CanvasSource string

const (
	CanvasSourceDraft    CanvasSource = "draft"
	CanvasSourceArtefact CanvasSource = "artefact"
	CanvasSourceEmpty    CanvasSource = "empty"
)

// Canvas is the resolved view returned by get_canvas.
type Canvas struct {
	Content   string       `json:"content"`
	Hash      string       `json:"hash,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
	Source    CanvasSource `json:"source"`
}
