package types

import "errors"

// Domain errors shared across packages
var (
	// ErrInvariant marks a logic error that leaves the index inconsistent.
	// Errors wrapping it abort the index session.
	ErrInvariant = errors.New("index invariant violated")

	// Event errors
	ErrEventPathRequired = errors.New("event path is required")
	ErrUnknownEventKind  = errors.New("unknown event kind")

	// Search result errors
	ErrInvalidRank     = errors.New("rank must be >= 1")
	ErrMissingFileInfo = errors.New("file path is required")
	ErrEmptyContent    = errors.New("content cannot be empty")
)
