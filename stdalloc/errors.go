package stdalloc

import "github.com/cockroachdb/errors"

var (
	// ErrNoSpace indicates that no backing block could satisfy the request and
	// growth was disabled or failed.
	ErrNoSpace = errors.New("stdalloc: out of space")

	// ErrBadPtr indicates a pointer not owned by this allocator.
	ErrBadPtr = errors.New("stdalloc: pointer not owned by allocator")

	// ErrBadAlign indicates an alignment outside the MinAlign and DoubleAlign classes.
	ErrBadAlign = errors.New("stdalloc: unsupported alignment")

	// ErrNotEmpty indicates that Clear found live allocations in a backing block.
	ErrNotEmpty = errors.New("stdalloc: block still has live allocations")

	// ErrConfig indicates an invalid configuration.
	ErrConfig = errors.New("stdalloc: invalid config")
)
