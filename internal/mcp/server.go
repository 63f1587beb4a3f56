package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomhq/loom/internal/domain/branch"
	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/project"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/repository"
)

// ProjectService defines project operations needed by MCP.
type ProjectService interface {
	Create(ctx context.Context, tenantID string, req project.CreateRequest) (*refs.Project, error)
	Get(ctx context.Context, tenantID, id string) (*refs.Project, error)
	GetDefault(ctx context.Context, tenantID, ownerID string) (*refs.Project, error)
	List(ctx context.Context, tenantID string) ([]refs.Project, error)
	RequireMember(ctx context.Context, tenantID, projectID, userID string) error
}

// RefReader defines the ref-browsing operations needed by MCP, satisfied
// directly by repository.RefRepository — there is no dedicated ref domain
// service since these are plain reads/renames with no transactional tip
// advancement (that lives on LedgerRepository, behind the branch/append/
// canvas services instead).
type RefReader interface {
	Get(ctx context.Context, tenantID, refID string) (*refs.Ref, error)
	GetByName(ctx context.Context, tenantID, projectID, name string) (*refs.Ref, error)
	List(ctx context.Context, tenantID, projectID string, opts repository.ListRefsOptions) ([]refs.RefSummary, error)
	Rename(ctx context.Context, tenantID, refID, newName string) error
	SetPinned(ctx context.Context, tenantID, refID string, pinned bool) error
	Delete(ctx context.Context, tenantID, refID string) error
}

// HistoryReader defines the read-only ledger operation needed by MCP.
type HistoryReader interface {
	History(ctx context.Context, tenantID, refID string, opts repository.HistoryOptions) ([]refs.HistoryEntry, error)
}

// ActivityReader defines the diagnostic activity feed read needed by MCP.
type ActivityReader interface {
	List(ctx context.Context, tenantID, projectID string, opts repository.ListActivityOptions) ([]repository.ActivityEntry, error)
}

// StarService defines the star relation operations needed by MCP.
type StarService interface {
	Toggle(ctx context.Context, tenantID, userID, nodeID string) (bool, error)
	ListStarred(ctx context.Context, tenantID, userID, projectID string) ([]string, error)
}

// UserPrefsService defines the per-user current-ref preference operations needed by MCP.
type UserPrefsService interface {
	SetCurrentRef(ctx context.Context, tenantID, userID, projectID, refID string) error
	GetCurrentRef(ctx context.Context, tenantID, userID, projectID string) (string, error)
}

// BranchService defines the ref-forking and merge operations needed by MCP.
type BranchService interface {
	CreateFromRef(ctx context.Context, tenantID string, req branch.CreateFromRefRequest) (*refs.Ref, error)
	CreateFromNode(ctx context.Context, tenantID string, req branch.CreateFromNodeRequest) (*refs.Ref, error)
	MergeOurs(ctx context.Context, tenantID string, req branch.MergeRequest) (*branch.MergeResult, error)
}

// CanvasService defines the draft/artefact operations needed by MCP.
type CanvasService interface {
	SaveDraft(ctx context.Context, tenantID string, req canvas.SaveDraftRequest) error
	DeleteDraft(ctx context.Context, tenantID, projectID, refID, userID string) error
	GetCanvas(ctx context.Context, tenantID string, req canvas.GetCanvasRequest) (*refs.Canvas, error)
	UpdateArtefact(ctx context.Context, tenantID string, req canvas.UpdateArtefactRequest) (*canvas.Result, error)
}

// LeaseService defines the explicit lease operations needed by MCP.
type LeaseService interface {
	Acquire(ctx context.Context, tenantID string, req lease.AcquireRequest) (*lease.AcquireResult, error)
	Refresh(ctx context.Context, tenantID, projectID, refID, userID, sessionID string, ttl time.Duration) error
	Release(ctx context.Context, tenantID, projectID, refID, sessionID string, force bool) error
	List(ctx context.Context, tenantID, projectID string) ([]repository.Lease, error)
}

// StreamService defines the stream-coordinator operations needed by MCP.
type StreamService interface {
	StartTurn(ctx context.Context, tenantID string, req stream.StartTurnRequest) (<-chan stream.TurnEvent, error)
	AbortTurn(projectID, refID string) error
}

// Services contains all domain services needed by MCP.
type Services struct {
	Projects  ProjectService
	Refs      RefReader
	History   HistoryReader
	Activity  ActivityReader
	Stars     StarService
	UserPrefs UserPrefsService
	Branch    BranchService
	Canvas    CanvasService
	Leases    LeaseService
	Stream    StreamService
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Resolver      TenantResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "loom",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio mode: always disable auth (local dev only).
	if cfg.TransportMode == "stdio" {
		server.AddReceivingMiddleware(noAuthMiddleware("default", "default"))
	} else {
		if cfg.AuthEnabled {
			server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
		} else {
			server.AddReceivingMiddleware(noAuthMiddleware("default", "default"))
		}
	}
	server.AddReceivingMiddleware(sessionMiddleware())
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services)

	return server
}
