package mcp

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomhq/loom/internal/domain/branch"
	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/contextbuild"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/project"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/repository"
)

// okOutput is the structured result for tools that just confirm success.
type okOutput struct {
	OK bool `json:"ok"`
}

func errResult(err error) *sdkmcp.CallToolResult {
	msg := err.Error()
	if ae := MapError(err); ae != nil {
		msg = ae.Code + ": " + ae.Message
		if ae.RecoveryHint != "" {
			msg += " (" + ae.RecoveryHint + ")"
		}
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: msg}},
	}
}

// callerIdentity resolves the acting user and session for a tool call:
// explicit arguments win, then whatever the auth/session middleware put on
// the context.
func callerIdentity(ctx context.Context, userID, sessionID string) (string, string) {
	if userID == "" {
		userID = getUserID(ctx)
	}
	if sessionID == "" {
		sessionID = getSessionID(ctx)
	}
	return userID, sessionID
}

// registerTools wires the full tool catalog against the supplied services.
// Every handler resolves the caller's tenant from context.
func registerTools(server *sdkmcp.Server, svc Services) {
	registerProjectTools(server, svc)
	registerRefTools(server, svc)
	registerCanvasTools(server, svc)
	registerBranchTools(server, svc)
	registerLeaseTools(server, svc)
	registerStreamTools(server, svc)
}

// --- Projects ---------------------------------------------------------

type createProjectInput struct {
	Name        string `json:"name" jsonschema:"the project's display name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id" jsonschema:"the user id enrolled as the project's first member"`
}

type listProjectsInput struct{}

type getProjectInput struct {
	ProjectID string `json:"project_id"`
}

type getDefaultProjectInput struct {
	OwnerID string `json:"owner_id" jsonschema:"the user enrolled as owner if the tenant has no project yet"`
}

func registerProjectTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_project",
		Description: "Create a project and its trunk ref.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in createProjectInput) (*sdkmcp.CallToolResult, refs.Project, error) {
		p, err := svc.Projects.Create(ctx, getTenantID(ctx), project.CreateRequest{Name: in.Name, Description: in.Description, OwnerID: in.OwnerID})
		if err != nil {
			return errResult(err), refs.Project{}, nil
		}
		return nil, *p, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_projects",
		Description: "List every project visible to the caller's tenant.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listProjectsInput) (*sdkmcp.CallToolResult, []refs.Project, error) {
		ps, err := svc.Projects.List(ctx, getTenantID(ctx))
		if err != nil {
			return errResult(err), nil, nil
		}
		return nil, ps, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_project",
		Description: "Fetch one project by id.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getProjectInput) (*sdkmcp.CallToolResult, refs.Project, error) {
		p, err := svc.Projects.Get(ctx, getTenantID(ctx), in.ProjectID)
		if err != nil {
			return errResult(err), refs.Project{}, nil
		}
		return nil, *p, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_default_project",
		Description: "Fetch the tenant's oldest project, creating one (with its trunk ref) on first use.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getDefaultProjectInput) (*sdkmcp.CallToolResult, refs.Project, error) {
		p, err := svc.Projects.GetDefault(ctx, getTenantID(ctx), in.OwnerID)
		if err != nil {
			return errResult(err), refs.Project{}, nil
		}
		return nil, *p, nil
	})
}

// --- Refs, history, drafts/current-ref, stars --------------------------

type listRefsInput struct {
	ProjectID     string `json:"project_id"`
	IncludePinned bool   `json:"include_pinned,omitempty"`
}

type getRefInput struct {
	RefID string `json:"ref_id"`
}

type getRefByNameInput struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name" jsonschema:"the ref's display name, e.g. main"`
}

type getHistoryInput struct {
	RefID              string `json:"ref_id"`
	Limit              int    `json:"limit,omitempty" jsonschema:"how many of the ref's most recent nodes to return; defaults to 40"`
	BeforeOrdinal      *int64 `json:"before_ordinal,omitempty" jsonschema:"page strictly before this ordinal instead of from the tip"`
	IncludeRawResponse bool   `json:"include_raw_response,omitempty" jsonschema:"include each node's raw provider payload; omitted by default"`
}

type renameRefInput struct {
	RefID   string `json:"ref_id"`
	NewName string `json:"new_name"`
}

type pinRefInput struct {
	RefID  string `json:"ref_id"`
	Pinned bool   `json:"pinned"`
}

type setCurrentRefInput struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	RefID     string `json:"ref_id"`
}

type getCurrentRefInput struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

type currentRefOutput struct {
	RefID string `json:"ref_id"`
}

type deleteRefInput struct {
	RefID string `json:"ref_id"`
}

type toggleStarInput struct {
	UserID string `json:"user_id"`
	NodeID string `json:"node_id"`
}

type toggleStarOutput struct {
	Starred bool `json:"starred"`
}

type listStarredInput struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

type listActivityInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func registerRefTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_refs",
		Description: "List a project's refs (branches) and their tips.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in listRefsInput) (*sdkmcp.CallToolResult, []refs.RefSummary, error) {
		rs, err := svc.Refs.List(ctx, getTenantID(ctx), in.ProjectID, repository.ListRefsOptions{IncludePinned: in.IncludePinned})
		if err != nil {
			return errResult(err), nil, nil
		}
		return nil, rs, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_ref",
		Description: "Fetch one ref by id, including its current provider/model binding.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getRefInput) (*sdkmcp.CallToolResult, refs.Ref, error) {
		r, err := svc.Refs.Get(ctx, getTenantID(ctx), in.RefID)
		if err != nil {
			return errResult(err), refs.Ref{}, nil
		}
		return nil, *r, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_ref_by_name",
		Description: "Fetch one ref by its display name within a project.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getRefByNameInput) (*sdkmcp.CallToolResult, refs.Ref, error) {
		r, err := svc.Refs.GetByName(ctx, getTenantID(ctx), in.ProjectID, in.Name)
		if err != nil {
			return errResult(err), refs.Ref{}, nil
		}
		return nil, *r, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_history",
		Description: "Read a ref's commit_order-linearized transcript, oldest first.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getHistoryInput) (*sdkmcp.CallToolResult, []refs.HistoryEntry, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = 40
		}
		h, err := svc.History.History(ctx, getTenantID(ctx), in.RefID, repository.HistoryOptions{
			Limit: limit, BeforeOrdinal: in.BeforeOrdinal, IncludeRawResponse: in.IncludeRawResponse,
		})
		if err != nil {
			return errResult(err), nil, nil
		}
		// Thinking signatures exist only for provider continuity; they are
		// never shown to a human viewer.
		for i := range h {
			h[i].Node.ContentBlocks = contextbuild.StripSignatures(h[i].Node.ContentBlocks)
		}
		return nil, h, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "rename_ref",
		Description: "Rename a ref within its project.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in renameRefInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.Refs.Rename(ctx, getTenantID(ctx), in.RefID, in.NewName); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "pin_ref",
		Description: "Pin or unpin a ref. list_refs reports each ref's is_pinned flag.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in pinRefInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.Refs.SetPinned(ctx, getTenantID(ctx), in.RefID, in.Pinned); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_current_ref",
		Description: "Record the caller's current ref for a project (per-user preference).",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in setCurrentRefInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.UserPrefs.SetCurrentRef(ctx, getTenantID(ctx), in.UserID, in.ProjectID, in.RefID); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_current_ref",
		Description: "Read the caller's current ref preference for a project.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getCurrentRefInput) (*sdkmcp.CallToolResult, currentRefOutput, error) {
		refID, err := svc.UserPrefs.GetCurrentRef(ctx, getTenantID(ctx), in.UserID, in.ProjectID)
		if err != nil {
			return errResult(err), currentRefOutput{}, nil
		}
		return nil, currentRefOutput{RefID: refID}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "delete_ref",
		Description: "Delete a non-trunk, unpinned ref. Its shared commits remain reachable from other refs.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in deleteRefInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.Refs.Delete(ctx, getTenantID(ctx), in.RefID); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "toggle_star",
		Description: "Flip the caller's star on a node. Stars are personal bookmarks; they never create commits.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in toggleStarInput) (*sdkmcp.CallToolResult, toggleStarOutput, error) {
		starred, err := svc.Stars.Toggle(ctx, getTenantID(ctx), in.UserID, in.NodeID)
		if err != nil {
			return errResult(err), toggleStarOutput{}, nil
		}
		return nil, toggleStarOutput{Starred: starred}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_starred",
		Description: "List the node ids the caller has starred in a project.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in listStarredInput) (*sdkmcp.CallToolResult, []string, error) {
		ids, err := svc.Stars.ListStarred(ctx, getTenantID(ctx), in.UserID, in.ProjectID)
		if err != nil {
			return errResult(err), nil, nil
		}
		return nil, ids, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_activity",
		Description: "Read the append-only diagnostic activity log for a project (optionally scoped to one ref).",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in listActivityInput) (*sdkmcp.CallToolResult, []repository.ActivityEntry, error) {
		entries, err := svc.Activity.List(ctx, getTenantID(ctx), in.ProjectID, repository.ListActivityOptions{RefID: in.RefID, Limit: in.Limit})
		if err != nil {
			return errResult(err), nil, nil
		}
		return nil, entries, nil
	})
}

// --- Canvas --------------------------------------------------------------

type saveDraftInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

type deleteDraftInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
	UserID    string `json:"user_id"`
}

type getCanvasInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
	UserID    string `json:"user_id"`
}

type updateArtefactInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
	Content   string `json:"content"`
	CreatedBy string `json:"created_by"`
}

func registerCanvasTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "save_draft",
		Description: "Upsert the caller's private canvas draft for a ref. Never part of history.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in saveDraftInput) (*sdkmcp.CallToolResult, okOutput, error) {
		err := svc.Canvas.SaveDraft(ctx, getTenantID(ctx), canvas.SaveDraftRequest{
			ProjectID: in.ProjectID, RefID: in.RefID, UserID: in.UserID, Content: in.Content,
		})
		if err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "delete_draft",
		Description: "Discard the caller's canvas draft; get_canvas reverts to the latest artefact.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in deleteDraftInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.Canvas.DeleteDraft(ctx, getTenantID(ctx), in.ProjectID, in.RefID, in.UserID); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_canvas",
		Description: "Resolve the caller's current view of a ref's canvas: their draft if present, else the latest committed artefact, else empty.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in getCanvasInput) (*sdkmcp.CallToolResult, refs.Canvas, error) {
		c, err := svc.Canvas.GetCanvas(ctx, getTenantID(ctx), canvas.GetCanvasRequest{
			ProjectID: in.ProjectID, RefID: in.RefID, UserID: in.UserID,
		})
		if err != nil {
			return errResult(err), refs.Canvas{}, nil
		}
		return nil, *c, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "update_artefact",
		Description: "Commit an explicit, durable canvas version on the trunk ref (refused on any other ref).",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in updateArtefactInput) (*sdkmcp.CallToolResult, canvas.Result, error) {
		res, err := svc.Canvas.UpdateArtefact(ctx, getTenantID(ctx), canvas.UpdateArtefactRequest{
			ProjectID: in.ProjectID, RefID: in.RefID, Content: in.Content, CreatedBy: in.CreatedBy,
		})
		if err != nil {
			return errResult(err), canvas.Result{}, nil
		}
		return nil, *res, nil
	})
}

// --- Branching and merging ------------------------------------------------

type createBranchFromRefInput struct {
	ProjectID   string `json:"project_id"`
	SourceRefID string `json:"source_ref_id"`
	NewName     string `json:"new_name"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	CreatedBy   string `json:"created_by"`
}

type createBranchFromNodeInput struct {
	ProjectID   string `json:"project_id"`
	SourceRefID string `json:"source_ref_id"`
	NodeID      string `json:"node_id" jsonschema:"fork as of this node's parent commit, discarding it and everything after"`
	NewName     string `json:"new_name"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	CreatedBy   string `json:"created_by"`
}

type mergeOursInput struct {
	ProjectID              string  `json:"project_id"`
	TargetRefID            string  `json:"target_ref_id"`
	SourceRefID            string  `json:"source_ref_id"`
	Summary                string  `json:"summary" jsonschema:"a human-authored account of what the merge brings in"`
	MergedAssistantNodeID  *string `json:"merged_assistant_node_id,omitempty"`
	MergedAssistantContent *string `json:"merged_assistant_content,omitempty"`
	CanvasDiff             *string `json:"canvas_diff,omitempty"`
	CreatedBy              string  `json:"created_by"`
}

func registerBranchTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_branch_from_ref",
		Description: "Fork a ref at its current tip; the new ref starts with the exact same history.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in createBranchFromRefInput) (*sdkmcp.CallToolResult, refs.Ref, error) {
		r, err := svc.Branch.CreateFromRef(ctx, getTenantID(ctx), branch.CreateFromRefRequest{
			ProjectID: in.ProjectID, SourceRefID: in.SourceRefID, NewName: in.NewName,
			Provider: in.Provider, Model: in.Model, CreatedBy: in.CreatedBy,
		})
		if err != nil {
			return errResult(err), refs.Ref{}, nil
		}
		return nil, *r, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_branch_from_node",
		Description: "Fork a ref truncated at an earlier node's parent commit, as if a different reply had been given there.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in createBranchFromNodeInput) (*sdkmcp.CallToolResult, refs.Ref, error) {
		r, err := svc.Branch.CreateFromNode(ctx, getTenantID(ctx), branch.CreateFromNodeRequest{
			ProjectID: in.ProjectID, SourceRefID: in.SourceRefID, NodeID: in.NodeID, NewName: in.NewName,
			Provider: in.Provider, Model: in.Model, CreatedBy: in.CreatedBy,
		})
		if err != nil {
			return errResult(err), refs.Ref{}, nil
		}
		return nil, *r, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "merge_ours",
		Description: "Record a structural merge of source_ref_id into target_ref_id: a two-parent commit plus a summary node. Never replays content or touches the canvas.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in mergeOursInput) (*sdkmcp.CallToolResult, branch.MergeResult, error) {
		res, err := svc.Branch.MergeOurs(ctx, getTenantID(ctx), branch.MergeRequest{
			ProjectID: in.ProjectID, TargetRefID: in.TargetRefID, SourceRefID: in.SourceRefID,
			Summary: in.Summary, MergedAssistantNodeID: in.MergedAssistantNodeID,
			MergedAssistantContent: in.MergedAssistantContent, CanvasDiff: in.CanvasDiff,
			CreatedBy: in.CreatedBy,
		})
		if err != nil {
			return errResult(err), branch.MergeResult{}, nil
		}
		return nil, *res, nil
	})
}

// --- Leases ---------------------------------------------------------------

type acquireLeaseInput struct {
	ProjectID  string `json:"project_id"`
	RefID      string `json:"ref_id"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type refreshLeaseInput struct {
	ProjectID  string `json:"project_id"`
	RefID      string `json:"ref_id"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type releaseLeaseInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
	SessionID string `json:"session_id"`
	Force     bool   `json:"force,omitempty" jsonschema:"release the lease regardless of who holds it"`
}

type listLeasesInput struct {
	ProjectID string `json:"project_id"`
}

func registerLeaseTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "acquire_lease",
		Description: "Acquire the exclusive writer lease on (project, ref) for a TTL. Returns the current holder if busy.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in acquireLeaseInput) (*sdkmcp.CallToolResult, lease.AcquireResult, error) {
		ttl := time.Duration(in.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 120 * time.Second
		}
		userID, sessionID := callerIdentity(ctx, in.UserID, in.SessionID)
		res, err := svc.Leases.Acquire(ctx, getTenantID(ctx), lease.AcquireRequest{
			ProjectID: in.ProjectID, RefID: in.RefID, UserID: userID, SessionID: sessionID, TTL: ttl,
		})
		if err != nil {
			return errResult(err), lease.AcquireResult{}, nil
		}
		return nil, *res, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "refresh_lease",
		Description: "Extend a held lease's TTL.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in refreshLeaseInput) (*sdkmcp.CallToolResult, okOutput, error) {
		ttl := time.Duration(in.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 120 * time.Second
		}
		userID, sessionID := callerIdentity(ctx, in.UserID, in.SessionID)
		if err := svc.Leases.Refresh(ctx, getTenantID(ctx), in.ProjectID, in.RefID, userID, sessionID, ttl); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "release_lease",
		Description: "Release a held lease.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in releaseLeaseInput) (*sdkmcp.CallToolResult, okOutput, error) {
		_, sessionID := callerIdentity(ctx, "", in.SessionID)
		if err := svc.Leases.Release(ctx, getTenantID(ctx), in.ProjectID, in.RefID, sessionID, in.Force); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_leases",
		Description: "List every active lease in a project (diagnostic).",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in listLeasesInput) (*sdkmcp.CallToolResult, []repository.Lease, error) {
		ls, err := svc.Leases.List(ctx, getTenantID(ctx), in.ProjectID)
		if err != nil {
			return errResult(err), nil, nil
		}
		return nil, ls, nil
	})
}

// --- Streaming turns --------------------------------------------------------

type startTurnInput struct {
	ProjectID             string `json:"project_id"`
	RefID                 string `json:"ref_id"`
	UserID                string `json:"user_id"`
	SessionID             string `json:"session_id"`
	UserContent           string `json:"user_content"`
	LeaseTTLSeconds       int    `json:"lease_ttl_seconds,omitempty"`
	LeaseWaitBoundSeconds int    `json:"lease_wait_bound_seconds,omitempty"`
	ContextLimit          int    `json:"context_limit,omitempty"`
	ContextTokenLimit     int    `json:"context_token_limit,omitempty"`
	CanvasToolsAvailable  bool   `json:"canvas_tools_available,omitempty"`
	Thinking              bool   `json:"thinking,omitempty"`
	WebSearchEnabled      bool   `json:"web_search_enabled,omitempty"`
}

type startTurnOutput struct {
	State            stream.TurnState `json:"state"`
	UserNodeID       string           `json:"user_node_id"`
	UserOrdinal      int64            `json:"user_ordinal"`
	AssistantNodeID  string           `json:"assistant_node_id"`
	AssistantOrdinal int64            `json:"assistant_ordinal"`
	Interrupted      bool             `json:"interrupted"`
	ResponseID       *string          `json:"response_id,omitempty"`
	AssistantText    string           `json:"assistant_text"`
}

type abortTurnInput struct {
	ProjectID string `json:"project_id"`
	RefID     string `json:"ref_id"`
}

func registerStreamTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "start_turn",
		Description: "Append the user's message, assemble context, drive the ref's bound model, and append its reply — all under one held lease. This tool call blocks until the turn completes or is aborted.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in startTurnInput) (*sdkmcp.CallToolResult, startTurnOutput, error) {
		userID, sessionID := callerIdentity(ctx, in.UserID, in.SessionID)
		events, err := svc.Stream.StartTurn(ctx, getTenantID(ctx), stream.StartTurnRequest{
			ProjectID: in.ProjectID, RefID: in.RefID, UserID: userID, SessionID: sessionID,
			UserContent: in.UserContent,
			LeaseTTL:             time.Duration(in.LeaseTTLSeconds) * time.Second,
			LeaseWaitBound:       time.Duration(in.LeaseWaitBoundSeconds) * time.Second,
			ContextLimit:         in.ContextLimit,
			ContextTokenLimit:    in.ContextTokenLimit,
			CanvasToolsAvailable: in.CanvasToolsAvailable,
			Thinking:             in.Thinking,
			WebSearchEnabled:     in.WebSearchEnabled,
		})
		if err != nil {
			return errResult(err), startTurnOutput{}, nil
		}

		var text []byte
		var final *stream.TurnResult
		var turnErr error
		for ev := range events {
			switch ev.Type {
			case stream.EventChunk:
				if ev.Chunk.Type == llm.ChunkText {
					text = append(text, ev.Chunk.Content...)
				}
			case stream.EventDone:
				final = ev.Result
			case stream.EventFailed:
				turnErr = ev.Err
				final = ev.Result
			}
		}

		if final == nil {
			if turnErr == nil {
				turnErr = ErrTurnProducedNoResult
			}
			return errResult(turnErr), startTurnOutput{}, nil
		}

		out := startTurnOutput{
			State: final.State, UserNodeID: final.UserNodeID, UserOrdinal: final.UserOrdinal,
			AssistantNodeID: final.AssistantNodeID, AssistantOrdinal: final.AssistantOrdinal,
			Interrupted: final.Interrupted, ResponseID: final.ResponseID, AssistantText: string(text),
		}
		if turnErr != nil {
			return errResult(turnErr), out, nil
		}
		return nil, out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "abort_turn",
		Description: "Cancel the in-flight turn on a ref; its partial reply is still persisted, marked interrupted.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in abortTurnInput) (*sdkmcp.CallToolResult, okOutput, error) {
		if err := svc.Stream.AbortTurn(in.ProjectID, in.RefID); err != nil {
			return errResult(err), okOutput{}, nil
		}
		return nil, okOutput{OK: true}, nil
	})
}
