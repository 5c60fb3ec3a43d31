package auth

import (
	"embed"
)

// MigrationsDir is the directory inside GetMigrationsFS holding the SQL files.
const MigrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
