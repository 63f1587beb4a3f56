// Package branch implements the branch engine: forking a ref
// from its tip or from an earlier node, and the "ours" structural merge.
package branch

import "errors"

var (
	// ErrInvalidInput is returned for malformed branch/merge requests.
	ErrInvalidInput = errors.New("branch: invalid input")
	// ErrRefNotFound is returned when a source or target ref does not exist.
	ErrRefNotFound = errors.New("branch: ref not found")
	// ErrNodeNotFound is returned when the node named by create_from_node
	// does not exist or is not reachable on the source ref.
	ErrNodeNotFound = errors.New("branch: node not found")
	// ErrNameConflict is returned when the new ref's name already exists in the project.
	ErrNameConflict = errors.New("branch: ref name already exists")
)
