// Package canvas implements the canvas engine: per-user
// mutable drafts, explicit immutable saves gated to trunk refs, and
// ref-scoped resolution of "the current canvas".
package canvas

import "errors"

var (
	// ErrInvalidInput is returned for malformed draft/save requests.
	ErrInvalidInput = errors.New("canvas: invalid input")
	// ErrRefNotFound is returned when the target ref does not exist.
	ErrRefNotFound = errors.New("canvas: ref not found")
	// ErrNotTrunk is returned when update_artefact is called on a non-trunk ref.
	ErrNotTrunk = errors.New("canvas: explicit canvas edits are only allowed on the trunk ref")
)
