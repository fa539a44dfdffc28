package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Schema migrations ship inside the binary so a fresh deploy brings its
// database up to date on boot.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies any pending schema migrations to db.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	return goose.Up(db, "migrations")
}
