package postgres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Schema files live next to this package; tests run from the package directory.
const schemaDir = "../migrations/postgres"

// setupTestDB starts a Postgres container with the cycle history schema.
// The returned func stops it.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("etl"),
		postgres.WithUsername("etl"),
		postgres.WithPassword("etl"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)

	applySchema(ctx, t, pool)

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	}
}

// applySchema runs every .sql file of schemaDir in name order.
func applySchema(ctx context.Context, t *testing.T, pool *Pool) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(schemaDir, "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no schema files in %s", schemaDir)

	for _, f := range files {
		ddl, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(ddl))
		require.NoError(t, err, "apply %s", filepath.Base(f))
	}
}
