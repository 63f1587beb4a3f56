// Package contextbuild assembles the system preamble and ordered message
// list fed to the LLM abstraction for a streaming turn.
package contextbuild

import "errors"

var (
	// ErrInvalidInput is returned for malformed build requests.
	ErrInvalidInput = errors.New("contextbuild: invalid input")
	// ErrRefNotFound is returned when the target ref does not exist.
	ErrRefNotFound = errors.New("contextbuild: ref not found")
)
