// Package append implements the append engine: one
// transaction per message turn that allocates the next commit_order
// ordinal, inserts the commit and node, and optionally promotes the
// caller's canvas draft into an artefact on the same commit.
package append

import "errors"

var (
	// ErrInvalidInput is returned for malformed append requests.
	ErrInvalidInput = errors.New("append: invalid input")
	// ErrRefNotFound is returned when the target ref does not exist.
	ErrRefNotFound = errors.New("append: ref not found")
)
