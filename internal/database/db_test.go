package database

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hookqueue/hookqueue/internal/config"
	"github.com/hookqueue/hookqueue/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testPool connects to the database named by the environment and runs the
// migrations. Tests are skipped when no server is reachable, so the suite
// stays runnable without local infrastructure.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, config.Load().Database, testLogger())
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool, testLogger()))
	return pool
}

// createTestApp registers a uniquely named application and removes its rows
// afterwards. Tasks cascade their delivery attempts on delete.
func createTestApp(t *testing.T, pool *pgxpool.Pool) *models.Application {
	t.Helper()

	apps := NewApplicationRepository(pool, testLogger())
	app, _, err := apps.CreateApplication(context.Background(), "test-"+uuid.NewString()[:8])
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, "DELETE FROM tasks WHERE app_id = $1", app.ID)
		_, _ = pool.Exec(ctx, "DELETE FROM api_keys WHERE app_id = $1", app.ID)
		_, _ = pool.Exec(ctx, "DELETE FROM applications WHERE id = $1", app.ID)
	})
	return app
}
