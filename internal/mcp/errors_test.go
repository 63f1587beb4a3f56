package mcp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/domain/branch"
	"github.com/loomhq/loom/internal/domain/canvas"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/repository"
)

func TestMapError_CodesPerSentinel(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{branch.ErrRefNotFound, "REF_NOT_FOUND"},
		{branch.ErrNameConflict, "REF_NAME_CONFLICT"},
		{canvas.ErrNotTrunk, "NOT_TRUNK"},
		{repository.ErrTrunkImmutable, "TRUNK_IMMUTABLE"},
		{repository.ErrRefPinned, "REF_PINNED"},
		{lease.ErrNotHeld, "LEASE_NOT_HELD"},
		{lease.ErrBusy, "LEASE_HELD"},
		{lease.ErrRefLocked, "REF_LOCKED"},
		{stream.ErrRefBusy, "REF_BUSY"},
		{stream.ErrLeaseExpired, "LEASE_EXPIRED"},
		{stream.ErrNoActiveTurn, "NO_ACTIVE_TURN"},
	}
	for _, tc := range cases {
		ae := MapError(tc.err)
		require.NotNil(t, ae, "sentinel %v should map", tc.err)
		require.Equal(t, tc.code, ae.Code)
	}
}

func TestMapError_WrappedSentinelStillMaps(t *testing.T) {
	wrapped := fmt.Errorf("merging: %w", branch.ErrRefNotFound)
	ae := MapError(wrapped)
	require.NotNil(t, ae)
	require.Equal(t, "REF_NOT_FOUND", ae.Code)
}

func TestMapError_UnknownErrorReturnsNil(t *testing.T) {
	require.Nil(t, MapError(errors.New("something unexpected")))
	require.Nil(t, MapError(nil))
}
