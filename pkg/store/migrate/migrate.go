// Package migrate implements the schema version gate spec §4.2
// describes: Refresh is the sole migrator, every other worker loop
// blocks (sleep-and-retry) at start-up until the running schema matches
// what the code expects.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var migrations embed.FS

func provider(db *sql.DB) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectPostgres, db, migrations, goose.WithAllowOutofOrder(false))
}

// MigrateUp applies all pending migrations. Only the refresh loop calls this.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	p, err := provider(db)
	if err != nil {
		return fmt.Errorf("migrate provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// ExpectedVersion is the migration number this build of the code was
// compiled against; bump it whenever a migration is added to sql/.
const ExpectedVersion = 1

// CheckVersionMatch blocks, sleeping and retrying, until the database's
// current migration version equals ExpectedVersion. Workers other than
// Refresh call this once at start-up so an in-flight Refresh migration
// never races a worker reading the old schema.
func CheckVersionMatch(ctx context.Context, db *sql.DB, pollInterval time.Duration) error {
	p, err := provider(db)
	if err != nil {
		return fmt.Errorf("migrate provider: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		current, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if current == ExpectedVersion {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for schema version %d (currently %d): %w", ExpectedVersion, current, ctx.Err())
		case <-ticker.C:
		}
	}
}
