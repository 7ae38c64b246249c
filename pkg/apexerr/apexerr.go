// Package apexerr defines the sentinel errors returned by the store and
// scheduler contracts. Callers compare against these with errors.Is; wrapped
// errors from lower layers are expected to use fmt.Errorf("...: %w", err).
package apexerr

import "errors"

var (
	// ErrInvalidDependency is returned when a dependency edge would close a
	// cycle, or names a blocker id that does not exist.
	ErrInvalidDependency = errors.New("apexerr: invalid dependency")

	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("apexerr: not found")

	// ErrAlreadyExists is returned by inserts that collide on a unique key
	// the caller did not ask to upsert (e.g. a duplicate checkpoint id).
	ErrAlreadyExists = errors.New("apexerr: already exists")

	// ErrInvalidTransition is returned when a status or gate transition is
	// not reachable from the current state.
	ErrInvalidTransition = errors.New("apexerr: invalid transition")

	// ErrInvalidState is returned when a supervisor operation is attempted
	// from a lifecycle state that does not permit it.
	ErrInvalidState = errors.New("apexerr: invalid state")
)
