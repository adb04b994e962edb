package postgres

import (
	"embed"
	"io/fs"

	"github.com/wonny/stratstats/pkg/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsDir is the directory of the embedded migrations
const MigrationsDir = "migrations"

// Migrations exposes the embedded schema migrations
func Migrations() fs.FS {
	return migrationFiles
}

// Migrate brings the stats schema up to date
func Migrate(databaseURL string) (*database.MigrationResult, error) {
	return database.Migrate(databaseURL, migrationFiles, MigrationsDir)
}
