package auth

import (
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	goerrors "github.com/goliatone/go-errors"
)

// RunMigrations applies the embedded SQL migrations to the Postgres
// database at dsn. postgres:// and postgresql:// URLs are accepted.
func RunMigrations(dsn string, logger Logger) error {
	if logger == nil {
		logger = NopLogger()
	}

	source, err := iofs.New(GetMigrationsFS(), MigrationsDir)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations source")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(dsn))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to initialize migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to apply migrations")
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// migrationURL rewrites the scheme to the one registered by the pgx/v5 driver.
func migrationURL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}
