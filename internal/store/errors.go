package store

import "github.com/rotisserie/eris"

// Integrity errors are never retried; the caller reports them and leaves
// the record or merge untouched.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrDuplicateAlias indicates (alias_text, scope) already maps to a
	// different canonical entity. Inserting the same mapping twice is a
	// no-op, not an error.
	ErrDuplicateAlias = eris.New("store: duplicate alias")

	// ErrMergeConflict indicates a merge would violate alias uniqueness;
	// the conflicting alias must be resolved manually first.
	ErrMergeConflict = eris.New("store: merge conflict")
)
