// Package inventory owns the Capacity Ledger: every change to an event's
// ticketsAvailable goes through one of the controllers in this package.
package inventory

import (
	"context"
	"fmt"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Controller reserves and releases event capacity.
type Controller interface {
	Reserve(ctx context.Context, eventID string, qty int) (models.Reservation, error)
	Release(ctx context.Context, eventID string, qty int) error
	Available(ctx context.Context, eventID string) (models.CapacitySnapshot, error)
	Open(ctx context.Context, event models.Event) error
}

// ConditionalLedger is a store that can decrement "only if enough is left"
// in a single statement.
type ConditionalLedger interface {
	TryReserve(ctx context.Context, eventID string, qty int) (remaining int, applied bool, err error)
	TryRelease(ctx context.Context, eventID string, qty int) (remaining int, applied bool, err error)
	Snapshot(ctx context.Context, eventID string) (models.CapacitySnapshot, error)
	Open(ctx context.Context, event models.Event) (bool, error)
}

// AtomicController reserves with one conditional update per call, so
// concurrent reservations are linearized by the store itself.
type AtomicController struct {
	ledger ConditionalLedger
	logger *logger.Logger
}

func NewAtomicController(ledger ConditionalLedger, log *logger.Logger) *AtomicController {
	return &AtomicController{ledger: ledger, logger: log}
}

func (c *AtomicController) Reserve(ctx context.Context, eventID string, qty int) (models.Reservation, error) {
	if qty <= 0 {
		return models.Reservation{}, fmt.Errorf("%w: ticketsBooked must be a positive integer", models.ErrValidation)
	}

	remaining, applied, err := c.ledger.TryReserve(ctx, eventID, qty)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("reserve capacity: %w", err)
	}
	if !applied {
		// Either the event is missing or there was not enough left; the
		// snapshot tells which and reports what is available now.
		snap, err := c.ledger.Snapshot(ctx, eventID)
		if err != nil {
			return models.Reservation{}, err
		}
		return models.Reservation{}, &models.InsufficientCapacityError{
			EventID:   eventID,
			Requested: qty,
			Available: snap.Available,
		}
	}

	c.logger.LogCapacity("RESERVE", eventID, qty, remaining)
	return models.Reservation{EventID: eventID, Quantity: qty, Remaining: remaining}, nil
}

func (c *AtomicController) Release(ctx context.Context, eventID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: release quantity must be positive", models.ErrValidation)
	}

	remaining, applied, err := c.ledger.TryRelease(ctx, eventID, qty)
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	if !applied {
		snap, err := c.ledger.Snapshot(ctx, eventID)
		if err != nil {
			return err
		}
		c.logger.Error("CAPACITY", fmt.Sprintf("release of %d on event %s refused: available=%d total=%d",
			qty, eventID, snap.Available, snap.Total))
		return fmt.Errorf("%w: event %s", models.ErrOverRelease, eventID)
	}

	c.logger.LogCapacity("RELEASE", eventID, qty, remaining)
	return nil
}

func (c *AtomicController) Available(ctx context.Context, eventID string) (models.CapacitySnapshot, error) {
	return c.ledger.Snapshot(ctx, eventID)
}

func (c *AtomicController) Open(ctx context.Context, event models.Event) error {
	created, err := c.ledger.Open(ctx, event)
	if err != nil {
		return fmt.Errorf("open ledger for event %s: %w", event.ID, err)
	}
	if created {
		logOpened(ctx, c.logger, c.ledger.Snapshot, event.ID)
	}
	return nil
}

// logOpened reports a freshly opened entry as the ledger stored it.
func logOpened(ctx context.Context, log *logger.Logger, snapshot func(context.Context, string) (models.CapacitySnapshot, error), eventID string) {
	snap, err := snapshot(ctx, eventID)
	if err != nil {
		log.Warn("CAPACITY", fmt.Sprintf("opened event %s but could not read it back: %v", eventID, err))
		return
	}
	log.LogCapacity("OPEN", eventID, snap.Total, snap.Available)
}
