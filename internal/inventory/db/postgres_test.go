package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ms-booking/internal/database/migrations"
	"ms-booking/internal/inventory"
	"ms-booking/internal/inventory/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// TestPostgresIntegration runs the conditional-update ledger against a real
// PostgreSQL with the embedded migrations applied.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "booking",
				"POSTGRES_PASSWORD": "booking",
				"POSTGRES_DB":       "booking",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer pgContainer.Terminate(ctx)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://booking:booking@%s:%s/booking?sslmode=disable", host, port.Port())

	log := logger.NewWithWriter(io.Discard, logger.ERROR)

	migrationDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	runner := migrations.NewRunner(migrationDB, log)
	require.NoError(t, runner.MigrateUp())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, runner.Close())

	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	eventDB := &db.DB{Bun: bunDB}
	controller := inventory.NewAtomicController(eventDB, log)
	require.NoError(t, controller.Open(ctx, newEvent("E1", 10)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := controller.Reserve(ctx, "E1", 1)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			var capErr *models.InsufficientCapacityError
			assert.ErrorAs(t, err, &capErr)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, successes)
	snap, err := controller.Available(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Available)

	// The table constraint backs up the conditional update
	_, err = bunDB.NewUpdate().Model((*models.Event)(nil)).
		Set("tickets_available = total_capacity + 1").
		Where("id = ?", "E1").
		Exec(ctx)
	assert.Error(t, err)

	require.NoError(t, controller.Release(ctx, "E1", 10))
	assert.ErrorIs(t, controller.Release(ctx, "E1", 1), models.ErrOverRelease)
}
