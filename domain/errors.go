package domain

import "errors"

// ErrNotFound is returned for missing, soft-deleted, or non-visible tasks.
// Callers must not be able to tell these cases apart.
var ErrNotFound = errors.New("task not found")

// ErrBadInput indicates a request that references data that does not exist.
var ErrBadInput = errors.New("bad input")

// ErrInternal replaces unexpected storage failures so their detail never
// reaches the caller.
var ErrInternal = errors.New("internal error")

// IsClientError reports whether err should be surfaced to the caller as-is.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadInput)
}
