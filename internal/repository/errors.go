package repository

import "errors"

// Sentinel errors returned by the storage layer. Domain packages wrap these
// with errors.Is-compatible domain sentinels; they are never returned
// directly to an MCP caller.
var (
	ErrNotFound            = errors.New("repository: not found")
	ErrConflict            = errors.New("repository: conflict")
	ErrForeignKeyViolation = errors.New("repository: foreign key violation")
	ErrInvalidInput        = errors.New("repository: invalid input")
	// ErrTrunkImmutable is returned by RefRepository.Rename and
	// RefRepository.Delete when the target ref is the project's trunk,
	// which can be neither renamed nor deleted.
	ErrTrunkImmutable = errors.New("repository: trunk ref cannot be renamed or deleted")
	// ErrRefPinned is returned by RefRepository.Delete when the target ref is
	// pinned; unpin first.
	ErrRefPinned = errors.New("repository: pinned ref cannot be deleted")
)
