package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies pending schema migrations for the given dialect.
func Migrate(ctx context.Context, db *sql.DB, dbType dal.DBType, log *slog.Logger) error {
	dialect := goose.DialectSQLite3
	if dbType == dal.DBTypePostgres {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, "migrations/"+string(dbType))
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		log.InfoContext(ctx, "migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}
