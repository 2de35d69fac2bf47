package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	kafkago "github.com/segmentio/kafka-go"
)

// EventStore is the durable record of events known to the booking service.
type EventStore interface {
	Open(ctx context.Context, event models.Event) (bool, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
}

// HeldCounter reports how many of an event's tickets are held by bookings
// that have not given them back.
type HeldCounter interface {
	HeldTickets(ctx context.Context, eventID string) (int, error)
}

// Registrar opens ledger entries for events announced by the event service.
// When Held is set, a (re)seeded entry starts at total capacity minus the
// tickets still held, so a ledger that lost its state does not resell them.
type Registrar struct {
	Events     EventStore
	Controller Controller
	Held       HeldCounter
	Logger     *logger.Logger
}

func (r *Registrar) Register(ctx context.Context, msg models.CapacityMessage) error {
	if strings.TrimSpace(msg.EventID) == "" || msg.TotalCapacity < 0 {
		return fmt.Errorf("%w: capacity message needs eventId and a non-negative totalCapacity", models.ErrValidation)
	}

	event := models.Event{
		ID:               msg.EventID,
		OwnerID:          msg.OwnerID,
		Title:            msg.Title,
		StartsAt:         msg.StartsAt,
		TotalCapacity:    msg.TotalCapacity,
		TicketsAvailable: msg.TotalCapacity,
		CreatedAt:        time.Now().UTC(),
	}

	created, err := r.Events.Open(ctx, event)
	if err != nil {
		return fmt.Errorf("store event %s: %w", event.ID, err)
	}
	if !created {
		r.Logger.Debug("CAPACITY", fmt.Sprintf("event %s already registered", event.ID))
	}

	// With the postgres backend this is the same row and a no-op.
	return r.open(ctx, event)
}

func (r *Registrar) open(ctx context.Context, event models.Event) error {
	if r.Held != nil {
		held, err := r.Held.HeldTickets(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("count held tickets for event %s: %w", event.ID, err)
		}
		event.TicketsAvailable = event.TotalCapacity - held
		if event.TicketsAvailable < 0 {
			r.Logger.Error("CAPACITY", fmt.Sprintf("event %s holds %d tickets over a capacity of %d",
				event.ID, held, event.TotalCapacity))
			event.TicketsAvailable = 0
		}
	}
	return r.Controller.Open(ctx, event)
}

// HandleMessage is the kafka.Handler for the event capacity topic.
func (r *Registrar) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var msg models.CapacityMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return fmt.Errorf("decode capacity message: %w", err)
	}
	return r.Register(ctx, msg)
}

// Warm opens a ledger entry for every stored event. Entries that already
// exist are kept.
func (r *Registrar) Warm(ctx context.Context) error {
	events, err := r.Events.ListEvents(ctx)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	for _, event := range events {
		if err := r.open(ctx, event); err != nil {
			return err
		}
	}
	r.Logger.Info("CAPACITY", fmt.Sprintf("ledger warmed with %d events", len(events)))
	return nil
}
