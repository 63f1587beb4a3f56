// Package lease serializes writers on a single ref: a per-(project, ref)
// in-process mutex guarding the storage-side lease row.
package lease

import "errors"

var (
	// ErrInvalidInput is returned for malformed acquire/refresh/release requests.
	ErrInvalidInput = errors.New("lease: invalid input")
	// ErrBusy is returned when a live lease is held by a different (user, session).
	ErrBusy = errors.New("lease: ref busy")
	// ErrRefLocked is returned when the in-process mutex could not be acquired
	// within the configured wait bound.
	ErrRefLocked = errors.New("lease: ref locked")
	// ErrNotHeld is returned by Refresh when the caller is not the current
	// holder. Release has no equivalent error: releasing a lease the caller
	// does not hold is a no-op.
	ErrNotHeld = errors.New("lease: not held by caller")
)
