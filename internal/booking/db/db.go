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

// bookingRow is a booking joined with the fields of its event that listings show.
type bookingRow struct {
	models.Booking `bun:",extend"`

	EventTitle    string    `bun:"event_title"`
	EventStartsAt time.Time `bun:"event_starts_at"`
}

// ---------------- BOOKINGS ----------------

// Insert → persist a new booking
func (d *DB) Insert(ctx context.Context, booking *models.Booking) error {
	_, err := d.Bun.NewInsert().Model(booking).Exec(ctx)
	return err
}

// GetByID → fetch one booking by its ID
func (d *DB) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("booking_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ApplyUpdate → write next's status and payment fields only if the row still
// holds prev's. Returns false when another writer got there first.
func (d *DB) ApplyUpdate(ctx context.Context, prev, next *models.Booking) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model(next).
		Column("status", "payment_status", "payment_transaction_id", "updated_at").
		Where("booking_id = ?", prev.BookingID).
		Where("status = ?", prev.Status).
		Where("payment_status = ?", prev.PaymentStatus).
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

// ClaimRelease → flip released from false to true. Only one caller per booking
// ever sees true, and that caller owns giving the tickets back.
func (d *DB) ClaimRelease(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("released = ?", true).
		Where("booking_id = ?", id).
		Where("released = ?", false).
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

// UnclaimRelease → undo a claim whose ledger release failed
func (d *DB) UnclaimRelease(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("released = ?", false).
		Where("booking_id = ?", id).
		Exec(ctx)
	return err
}

// Delete → remove a booking by ID
func (d *DB) Delete(ctx context.Context, id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("booking_id = ?", id).
		Exec(ctx)
	return err
}

// HeldTickets → tickets of an event that bookings still hold against its
// ledger, i.e. every booking whose release has not been claimed
func (d *DB) HeldTickets(ctx context.Context, eventID string) (int, error) {
	var held int
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		ColumnExpr("COALESCE(SUM(tickets_booked), 0)").
		Where("event_id = ?", eventID).
		Where("released = ?", false).
		Scan(ctx, &held)
	if err != nil {
		return 0, err
	}
	return held, nil
}

// ---------------- LISTING ----------------

// List → one page of bookings matching f, newest first, each with its event
// summary, plus the total number of matches.
func (d *DB) List(ctx context.Context, f models.BookingFilter) ([]models.BookingWithEvent, int, error) {
	var rows []bookingRow

	filter := func(q *bun.SelectQuery) *bun.SelectQuery {
		if f.UserID != "" {
			q = q.Where("b.user_id = ?", f.UserID)
		}
		if f.EventID != "" {
			q = q.Where("b.event_id = ?", f.EventID)
		}
		if f.Status != "" {
			q = q.Where("b.status = ?", f.Status)
		}
		return q
	}

	total, err := filter(d.Bun.NewSelect().Model((*models.Booking)(nil))).Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	err = filter(d.Bun.NewSelect().
		Model(&rows).
		ColumnExpr("b.*").
		ColumnExpr("e.title AS event_title").
		ColumnExpr("e.starts_at AS event_starts_at").
		Join("JOIN events AS e ON e.id = b.event_id")).
		OrderExpr("b.booking_date DESC, b.booking_id DESC").
		Limit(f.Limit).
		Offset(f.Offset()).
		Scan(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	out := make([]models.BookingWithEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.BookingWithEvent{
			Booking: r.Booking,
			Event: models.EventSummary{
				ID:       r.EventID,
				Title:    r.EventTitle,
				StartsAt: r.EventStartsAt,
			},
		})
	}
	return out, total, nil
}
