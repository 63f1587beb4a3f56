// Package stream implements the stream coordinator: the state
// machine that drives a single streaming turn from lease acquisition through
// user-turn append, provider streaming, and assistant-turn append.
package stream

import "errors"

var (
	// ErrInvalidInput is returned for malformed turn requests.
	ErrInvalidInput = errors.New("stream: invalid input")
	// ErrRefBusy is returned when the ref's lease is held by another session
	// and the bounded wait-and-retry window elapses.
	ErrRefBusy = errors.New("stream: ref busy")
	// ErrRefNotFound is returned when the target ref does not exist.
	ErrRefNotFound = errors.New("stream: ref not found")
	// ErrProviderNotRegistered is returned when the ref's bound provider has
	// no adapter registered in the provider registry.
	ErrProviderNotRegistered = errors.New("stream: provider not registered")
	// ErrLeaseExpired is the terminal state when a newer lease acquisition by
	// a different session preempts this coordinator's assistant-append step.
	ErrLeaseExpired = errors.New("stream: lease expired, preempted by another session")
	// ErrNoActiveTurn is returned by AbortTurn when no turn is in flight for
	// the given (project, ref).
	ErrNoActiveTurn = errors.New("stream: no active turn for ref")
)
