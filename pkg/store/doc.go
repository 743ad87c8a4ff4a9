// Package store: see store.go for the Accessor interface, postgres.go for
// the pgx/sqlx-backed implementation, and fake.go for the in-memory test
// double used throughout the stage packages' unit tests.
package store
