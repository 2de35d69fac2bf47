package inventory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// VersionedLedger is a store without a conditional decrement. Writes succeed
// only if the entry's version still matches the one that was read.
type VersionedLedger interface {
	Snapshot(ctx context.Context, eventID string) (models.CapacitySnapshot, error)
	CompareAndSwap(ctx context.Context, eventID string, expectedVersion int64, available int) (bool, error)
	Open(ctx context.Context, event models.Event) (bool, error)
}

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 10 * time.Millisecond
)

// OptimisticController runs a read / compare-and-swap loop with jittered
// backoff. Losing the race MaxAttempts times yields ErrConflict, which is
// distinct from running out of tickets.
type OptimisticController struct {
	ledger      VersionedLedger
	logger      *logger.Logger
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type OptimisticOption func(*OptimisticController)

func WithMaxAttempts(n int) OptimisticOption {
	return func(c *OptimisticController) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) OptimisticOption {
	return func(c *OptimisticController) {
		if d > 0 {
			c.backoff = d
		}
	}
}

func NewOptimisticController(ledger VersionedLedger, log *logger.Logger, opts ...OptimisticOption) *OptimisticController {
	c := &OptimisticController{
		ledger:      ledger,
		logger:      log,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OptimisticController) Reserve(ctx context.Context, eventID string, qty int) (models.Reservation, error) {
	if qty <= 0 {
		return models.Reservation{}, fmt.Errorf("%w: ticketsBooked must be a positive integer", models.ErrValidation)
	}

	var res models.Reservation
	err := c.retry(ctx, eventID, "reserve", func(snap models.CapacitySnapshot) (int, error) {
		if snap.Available < qty {
			return 0, &models.InsufficientCapacityError{EventID: eventID, Requested: qty, Available: snap.Available}
		}
		res = models.Reservation{EventID: eventID, Quantity: qty, Remaining: snap.Available - qty}
		return snap.Available - qty, nil
	})
	if err != nil {
		return models.Reservation{}, err
	}

	c.logger.LogCapacity("RESERVE", eventID, qty, res.Remaining)
	return res, nil
}

func (c *OptimisticController) Release(ctx context.Context, eventID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: release quantity must be positive", models.ErrValidation)
	}

	var remaining int
	err := c.retry(ctx, eventID, "release", func(snap models.CapacitySnapshot) (int, error) {
		if snap.Available+qty > snap.Total {
			return 0, fmt.Errorf("%w: event %s", models.ErrOverRelease, eventID)
		}
		remaining = snap.Available + qty
		return remaining, nil
	})
	if err != nil {
		return err
	}

	c.logger.LogCapacity("RELEASE", eventID, qty, remaining)
	return nil
}

// retry applies next to the latest snapshot until the swap lands.
func (c *OptimisticController) retry(ctx context.Context, eventID, op string, next func(models.CapacitySnapshot) (int, error)) error {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		snap, err := c.ledger.Snapshot(ctx, eventID)
		if err != nil {
			return err
		}

		available, err := next(snap)
		if err != nil {
			return err
		}

		swapped, err := c.ledger.CompareAndSwap(ctx, eventID, snap.Version, available)
		if err != nil {
			return fmt.Errorf("%s capacity: %w", op, err)
		}
		if swapped {
			return nil
		}

		c.logger.Debug("CAPACITY", fmt.Sprintf("%s on event %s lost race at version %d (attempt %d/%d)",
			op, eventID, snap.Version, attempt, c.maxAttempts))

		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, c.jitter(attempt)); err != nil {
				return err
			}
		}
	}

	c.logger.Warn("CAPACITY", fmt.Sprintf("%s on event %s gave up after %d attempts", op, eventID, c.maxAttempts))
	return fmt.Errorf("%w: event %s after %d attempts", models.ErrConflict, eventID, c.maxAttempts)
}

// jitter returns backoff * 2^(attempt-1) plus up to one backoff of noise.
func (c *OptimisticController) jitter(attempt int) time.Duration {
	base := c.backoff << (attempt - 1)
	return base + time.Duration(rand.Int64N(int64(c.backoff)))
}

func (c *OptimisticController) Available(ctx context.Context, eventID string) (models.CapacitySnapshot, error) {
	return c.ledger.Snapshot(ctx, eventID)
}

func (c *OptimisticController) Open(ctx context.Context, event models.Event) error {
	created, err := c.ledger.Open(ctx, event)
	if err != nil {
		return fmt.Errorf("open ledger for event %s: %w", event.ID, err)
	}
	if created {
		logOpened(ctx, c.logger, c.ledger.Snapshot, event.ID)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
