package store

import "errors"

// errNotFound is returned by Fake lookups; the Postgres implementation
// returns sql.ErrNoRows / pgx.ErrNoRows directly from its driver instead.
var errNotFound = errors.New("store: not found")
