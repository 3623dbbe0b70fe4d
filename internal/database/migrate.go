package database

import (
	"context"
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var embedMigrations embed.FS

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug().Msgf(strings.TrimSpace(format), v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal().Msgf(strings.TrimSpace(format), v...)
}

// Migrate runs a goose command ("up", "down", "status", ...) using the
// migration set that matches the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB, command string) error {
	dialect := db.DriverName()
	if dialect != DriverPostgres && dialect != DriverSQLite {
		return fmt.Errorf("no migrations for driver %q", dialect)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db.DB, path.Join("migrations", dialect)); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	return nil
}
