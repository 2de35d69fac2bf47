package redis

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func event(id string, capacity int) models.Event {
	return models.Event{ID: id, TotalCapacity: capacity, TicketsAvailable: capacity}
}

func TestOpenAndSnapshot(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	created, err := l.Open(ctx, event("E1", 10))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "10", mr.HGet("event_capacity:E1", "available"))

	snap, err := l.Snapshot(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, models.CapacitySnapshot{EventID: "E1", Available: 10, Total: 10, Version: 0}, snap)

	// Existing entries survive a second open
	created, err = l.Open(ctx, event("E1", 50))
	require.NoError(t, err)
	assert.False(t, created)
	snap, _ = l.Snapshot(ctx, "E1")
	assert.Equal(t, 10, snap.Total)

	_, err = l.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	_, err := l.Open(ctx, event("E1", 10))
	require.NoError(t, err)

	swapped, err := l.CompareAndSwap(ctx, "E1", 0, 7)
	require.NoError(t, err)
	assert.True(t, swapped)

	// Stale version loses
	swapped, err = l.CompareAndSwap(ctx, "E1", 0, 5)
	require.NoError(t, err)
	assert.False(t, swapped)

	snap, _ := l.Snapshot(ctx, "E1")
	assert.Equal(t, 7, snap.Available)
	assert.Equal(t, int64(1), snap.Version)

	_, err = l.CompareAndSwap(ctx, "missing", 0, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOptimisticController_ConcurrentReservations(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	controller := inventory.NewOptimisticController(NewLedger(client), logger.NewWithWriter(io.Discard, logger.ERROR),
		inventory.WithMaxAttempts(50))
	require.NoError(t, controller.Open(ctx, event("E1", 10)))

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
			// losing every retry is allowed, overselling is not
			assert.True(t, isRefusal(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	snap, err := controller.Available(ctx, "E1")
	require.NoError(t, err)
	assert.LessOrEqual(t, successes, 10)
	assert.Equal(t, 10-successes, snap.Available)
}

func isRefusal(err error) bool {
	return errors.Is(err, models.ErrInsufficientCapacity) || errors.Is(err, models.ErrConflict)
}

type storedEvents []models.Event

func (s storedEvents) Open(context.Context, models.Event) (bool, error) { return false, nil }

func (s storedEvents) ListEvents(context.Context) ([]models.Event, error) { return s, nil }

type heldTickets map[string]int

func (h heldTickets) HeldTickets(_ context.Context, eventID string) (int, error) {
	return h[eventID], nil
}

func TestWarmAfterFlushKeepsBookedTickets(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	log := logger.NewWithWriter(io.Discard, logger.ERROR)

	controller := inventory.NewOptimisticController(NewLedger(client), log)
	held := heldTickets{}
	registrar := &inventory.Registrar{
		// the events table is never decremented under this backend
		Events:     storedEvents{event("E1", 5)},
		Controller: controller,
		Held:       held,
		Logger:     log,
	}

	require.NoError(t, registrar.Warm(ctx))
	_, err := controller.Reserve(ctx, "E1", 3)
	require.NoError(t, err)
	held["E1"] = 3

	mr.FlushAll()
	require.NoError(t, registrar.Warm(ctx))

	snap, err := controller.Available(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Available)
	assert.Equal(t, 5, snap.Total)

	_, err = controller.Reserve(ctx, "E1", 5)
	assert.ErrorIs(t, err, models.ErrInsufficientCapacity)
}
