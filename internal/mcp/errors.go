package mcp

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/internal/domain/append"
	"github.com/loomhq/loom/internal/domain/branch"
	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/contextbuild"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/project"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/repository"
)

// ErrTurnProducedNoResult guards against a stream.Service bug where the
// turn's event channel closes without ever sending a Done or Failed event.
var ErrTurnProducedNoResult = errors.New("mcp: turn produced no result")

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		return &APIError{Code: "PROJECT_NOT_FOUND", Message: "project not found", RecoveryHint: "Check the project id"}
	case errors.Is(err, project.ErrNotMember):
		return &APIError{Code: "NOT_MEMBER", Message: "user is not a project member", RecoveryHint: "Enroll the user before retrying"}
	case errors.Is(err, project.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid project request"}
	case errors.Is(err, branch.ErrRefNotFound):
		return &APIError{Code: "REF_NOT_FOUND", Message: "ref not found", RecoveryHint: "Check the ref id"}
	case errors.Is(err, branch.ErrNodeNotFound):
		return &APIError{Code: "NODE_NOT_FOUND", Message: "node not found"}
	case errors.Is(err, branch.ErrNameConflict):
		return &APIError{Code: "REF_NAME_CONFLICT", Message: "a ref with that name already exists", RecoveryHint: "Choose a different name"}
	case errors.Is(err, branch.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid branch request"}
	case errors.Is(err, repository.ErrTrunkImmutable):
		return &APIError{Code: "TRUNK_IMMUTABLE", Message: "the trunk ref cannot be renamed or deleted"}
	case errors.Is(err, repository.ErrRefPinned):
		return &APIError{Code: "REF_PINNED", Message: "a pinned ref cannot be deleted", RecoveryHint: "Unpin the ref first"}
	case errors.Is(err, canvas.ErrRefNotFound):
		return &APIError{Code: "REF_NOT_FOUND", Message: "ref not found"}
	case errors.Is(err, canvas.ErrNotTrunk):
		return &APIError{Code: "NOT_TRUNK", Message: "explicit canvas saves are only permitted on the trunk ref", RecoveryHint: "Merge into trunk first"}
	case errors.Is(err, canvas.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid canvas request"}
	case errors.Is(err, append.ErrRefNotFound):
		return &APIError{Code: "REF_NOT_FOUND", Message: "ref not found"}
	case errors.Is(err, append.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid append request"}
	case errors.Is(err, contextbuild.ErrRefNotFound):
		return &APIError{Code: "REF_NOT_FOUND", Message: "ref not found"}
	case errors.Is(err, lease.ErrNotHeld):
		return &APIError{Code: "LEASE_NOT_HELD", Message: "the caller does not hold this lease", RecoveryHint: "Acquire the lease first"}
	case errors.Is(err, lease.ErrBusy):
		return &APIError{Code: "LEASE_HELD", Message: "another session holds the lease on this ref", RecoveryHint: "Wait for it to expire or be released"}
	case errors.Is(err, lease.ErrRefLocked):
		return &APIError{Code: "REF_LOCKED", Message: "the ref is locked by a concurrent write", RecoveryHint: "Retry shortly"}
	case errors.Is(err, lease.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid lease request"}
	case errors.Is(err, stream.ErrRefBusy):
		return &APIError{Code: "REF_BUSY", Message: "another session is currently streaming on this ref", RecoveryHint: "Retry shortly or abort the other turn"}
	case errors.Is(err, stream.ErrLeaseExpired):
		return &APIError{Code: "LEASE_EXPIRED", Message: "the turn's lease was taken over by another session", RecoveryHint: "The partial reply was saved; re-acquire and retry"}
	case errors.Is(err, stream.ErrRefNotFound):
		return &APIError{Code: "REF_NOT_FOUND", Message: "ref not found"}
	case errors.Is(err, stream.ErrProviderNotRegistered):
		return &APIError{Code: "PROVIDER_NOT_REGISTERED", Message: "the ref's bound provider has no configured adapter"}
	case errors.Is(err, stream.ErrNoActiveTurn):
		return &APIError{Code: "NO_ACTIVE_TURN", Message: "no in-flight turn to abort"}
	case errors.Is(err, stream.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: "invalid turn request"}
	default:
		return nil
	}
}
