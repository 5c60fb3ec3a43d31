package auth

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/stations?sslmode=disable": "pgx5://u:p@localhost:5432/stations?sslmode=disable",
		"postgresql://localhost/stations":                        "pgx5://localhost/stations",
		"pgx5://localhost/stations":                              "pgx5://localhost/stations",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrationURL(in), in)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(GetMigrationsFS(), MigrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var ups int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			ups++
		}
	}
	assert.Positive(t, ups)
}
