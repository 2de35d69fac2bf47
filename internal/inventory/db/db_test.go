package db_test

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	"ms-booking/internal/inventory"
	"ms-booking/internal/inventory/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// every connection to :memory: is a separate database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.Event)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create events table: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func newEvent(id string, capacity int) models.Event {
	return models.Event{
		ID:            id,
		OwnerID:       "org-1",
		Title:         "Conference " + id,
		StartsAt:      time.Now().Add(72 * time.Hour),
		TotalCapacity: capacity,
	}
}

func TestOpenAndGetEvent(t *testing.T) {
	eventDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	created, err := eventDB.Open(ctx, newEvent("E1", 10))
	require.NoError(t, err)
	assert.True(t, created)

	event, err := eventDB.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", event.OwnerID)
	assert.Equal(t, 10, event.TicketsAvailable)
	assert.Equal(t, 10, event.TotalCapacity)

	// Registering again keeps the original row
	again := newEvent("E1", 99)
	created, err = eventDB.Open(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	event, err = eventDB.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 10, event.TotalCapacity)

	// Missing event
	_, err = eventDB.GetEvent(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTryReserve(t *testing.T) {
	eventDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, err := eventDB.Open(ctx, newEvent("E1", 3))
	require.NoError(t, err)

	remaining, applied, err := eventDB.TryReserve(ctx, "E1", 2)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, remaining)

	// Not enough left: nothing changes
	_, applied, err = eventDB.TryReserve(ctx, "E1", 2)
	require.NoError(t, err)
	assert.False(t, applied)

	snap, err := eventDB.Snapshot(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Available)
	assert.Equal(t, int64(1), snap.Version)

	// Unknown event is simply not applied
	_, applied, err = eventDB.TryReserve(ctx, "ghost", 1)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTryRelease(t *testing.T) {
	eventDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, err := eventDB.Open(ctx, newEvent("E1", 5))
	require.NoError(t, err)
	_, _, err = eventDB.TryReserve(ctx, "E1", 3)
	require.NoError(t, err)

	remaining, applied, err := eventDB.TryRelease(ctx, "E1", 3)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 5, remaining)

	// Would exceed total capacity
	_, applied, err = eventDB.TryRelease(ctx, "E1", 1)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestListEvents(t *testing.T) {
	eventDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	for _, id := range []string{"E1", "E2"} {
		_, err := eventDB.Open(ctx, newEvent(id, 1))
		require.NoError(t, err)
	}

	events, err := eventDB.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAtomicController_ConcurrentReservations(t *testing.T) {
	eventDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	controller := inventory.NewAtomicController(eventDB, logger.NewWithWriter(io.Discard, logger.ERROR))
	require.NoError(t, controller.Open(ctx, newEvent("E1", 10)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := controller.Reserve(ctx, "E1", 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, models.ErrInsufficientCapacity) {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, successes)
	assert.Equal(t, 10, refused)

	snap, err := controller.Available(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Available)
}
