// Package db is the Postgres side of the capacity ledger. Reservations are a
// single conditional UPDATE so the row lock serializes concurrent callers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- EVENTS ----------------

// GetEvent → fetch one event by its ID
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEvents → every registered event, used to warm other ledger backends
func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Open → register an event with its full capacity available. Registering an
// event twice keeps the first row.
func (d *DB) Open(ctx context.Context, event models.Event) (bool, error) {
	if event.TotalCapacity < 0 {
		return false, fmt.Errorf("%w: totalCapacity must not be negative", models.ErrValidation)
	}
	event.TicketsAvailable = event.TotalCapacity
	event.Version = 0
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	res, err := d.Bun.NewInsert().
		Model(&event).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---------------- LEDGER ----------------

// TryReserve → deduct qty only if that many are still available
func (d *DB) TryReserve(ctx context.Context, eventID string, qty int) (int, bool, error) {
	var remaining []int
	err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("tickets_available = tickets_available - ?", qty).
		Set("version = version + 1").
		Where("id = ?", eventID).
		Where("tickets_available >= ?", qty).
		Returning("tickets_available").
		Scan(ctx, &remaining)
	if err != nil {
		return 0, false, err
	}
	if len(remaining) == 0 {
		return 0, false, nil
	}
	return remaining[0], true, nil
}

// TryRelease → give qty back, never beyond total capacity
func (d *DB) TryRelease(ctx context.Context, eventID string, qty int) (int, bool, error) {
	var remaining []int
	err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("tickets_available = tickets_available + ?", qty).
		Set("version = version + 1").
		Where("id = ?", eventID).
		Where("tickets_available + ? <= total_capacity", qty).
		Returning("tickets_available").
		Scan(ctx, &remaining)
	if err != nil {
		return 0, false, err
	}
	if len(remaining) == 0 {
		return 0, false, nil
	}
	return remaining[0], true, nil
}

// Snapshot → current availability for an event
func (d *DB) Snapshot(ctx context.Context, eventID string) (models.CapacitySnapshot, error) {
	event, err := d.GetEvent(ctx, eventID)
	if err != nil {
		return models.CapacitySnapshot{}, err
	}
	return models.CapacitySnapshot{
		EventID:   event.ID,
		Available: event.TicketsAvailable,
		Total:     event.TotalCapacity,
		Version:   event.Version,
	}, nil
}
