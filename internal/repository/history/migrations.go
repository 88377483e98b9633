package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// embeddedMigrations holds the SQL schema of every backend.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embeddedMigrations embed.FS

// migrate applies pending migrations from migrations/<dir> using a goose provider,
// which keeps no package-level state and is safe to run for several stores at once.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	migrations, err := fs.Sub(embeddedMigrations, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err = provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
