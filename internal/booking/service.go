// Package booking is the booking lifecycle engine: it validates requests,
// authorizes callers, moves capacity through the inventory controller and
// persists the result.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/google/uuid"
)

type Store interface {
	Insert(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ApplyUpdate(ctx context.Context, prev, next *models.Booking) (bool, error)
	ClaimRelease(ctx context.Context, id string) (bool, error)
	UnclaimRelease(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f models.BookingFilter) ([]models.BookingWithEvent, int, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Notifier hands lifecycle messages to whoever emails the user.
type Notifier interface {
	Notify(ctx context.Context, msg models.BookingMessage) error
}

// Paging bounds list requests.
type Paging struct {
	DefaultLimit int
	MaxLimit     int
}

// ListQuery is a list request as received. Zero Page or Limit means unset.
type ListQuery struct {
	Page   int
	Limit  int
	Status string
}

// maxUpdateAttempts bounds re-reads when a concurrent writer changes the
// booking between our read and our conditional write.
const maxUpdateAttempts = 3

type Service struct {
	Store     Store
	Events    EventReader
	Inventory inventory.Controller
	Notifier  Notifier
	Logger    *logger.Logger
	Paging    Paging

	now    func() time.Time
	newID  func() string
	notify func(func())
}

func NewService(store Store, events EventReader, inv inventory.Controller, notifier Notifier, log *logger.Logger, paging Paging) *Service {
	if paging.DefaultLimit <= 0 {
		paging.DefaultLimit = 10
	}
	if paging.MaxLimit <= 0 {
		paging.MaxLimit = 100
	}
	return &Service{
		Store:     store,
		Events:    events,
		Inventory: inv,
		Notifier:  notifier,
		Logger:    log,
		Paging:    paging,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
		notify:    func(f func()) { go f() },
	}
}

// ---------------- CREATE ----------------

func (s *Service) Create(ctx context.Context, p models.Principal, req models.BookingRequest) (*models.Booking, error) {
	if err := auth.CanCreate(p); err != nil {
		return nil, err
	}
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		return nil, fmt.Errorf("%w: eventId is required", models.ErrValidation)
	}
	if req.TicketsBooked <= 0 {
		return nil, fmt.Errorf("%w: ticketsBooked must be a positive integer", models.ErrValidation)
	}

	event, err := s.Events.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	if _, err := s.Inventory.Reserve(ctx, event.ID, req.TicketsBooked); err != nil {
		return nil, err
	}

	now := s.now()
	booking := &models.Booking{
		BookingID:     s.newID(),
		UserID:        p.UserID,
		EventID:       event.ID,
		TicketsBooked: req.TicketsBooked,
		Status:        models.BookingPending,
		PaymentStatus: models.PaymentUnpaid,
		BookingDate:   now,
		UpdatedAt:     now,
	}

	if err := s.Store.Insert(ctx, booking); err != nil {
		// give the tickets back; the booking never existed
		if rerr := s.Inventory.Release(ctx, event.ID, req.TicketsBooked); rerr != nil {
			s.Logger.Error("BOOKING", fmt.Sprintf("failed to release %d tickets on event %s after insert error: %v",
				req.TicketsBooked, event.ID, rerr))
		}
		return nil, fmt.Errorf("persist booking: %w", err)
	}

	s.Logger.LogBooking("CREATE", booking.BookingID, fmt.Sprintf("user=%s event=%s tickets=%d",
		p.UserID, event.ID, booking.TicketsBooked))
	s.dispatch(ctx, models.MessageBookingCreated, *booking, p, event)
	return booking, nil
}

// ---------------- READ ----------------

func (s *Service) ListMine(ctx context.Context, p models.Principal, q ListQuery) (*models.BookingPage, error) {
	if err := auth.CanListOwn(p); err != nil {
		return nil, err
	}
	filter, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	filter.UserID = p.UserID
	return s.list(ctx, filter)
}

func (s *Service) ListForEvent(ctx context.Context, p models.Principal, eventID string, q ListQuery) (*models.BookingPage, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := auth.CanReadEventBookings(p, event); err != nil {
		return nil, err
	}
	filter, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	filter.EventID = event.ID
	return s.list(ctx, filter)
}

func (s *Service) Get(ctx context.Context, p models.Principal, id string) (*models.Booking, error) {
	booking, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	event, err := s.eventFor(ctx, booking)
	if err != nil {
		return nil, err
	}
	if err := auth.CanReadBooking(p, booking, event); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *Service) filter(q ListQuery) (models.BookingFilter, error) {
	f := models.BookingFilter{Page: q.Page, Limit: q.Limit}
	switch {
	case f.Page == 0:
		f.Page = 1
	case f.Page < 0:
		return f, fmt.Errorf("%w: page must be at least 1", models.ErrValidation)
	}
	switch {
	case f.Limit == 0:
		f.Limit = s.Paging.DefaultLimit
	case f.Limit < 0:
		return f, fmt.Errorf("%w: limit must be at least 1", models.ErrValidation)
	case f.Limit > s.Paging.MaxLimit:
		f.Limit = s.Paging.MaxLimit
	}
	if q.Status != "" {
		status := models.BookingStatus(strings.ToLower(q.Status))
		if !status.Valid() {
			return f, fmt.Errorf("%w: unknown status %q", models.ErrValidation, q.Status)
		}
		f.Status = status
	}
	return f, nil
}

func (s *Service) list(ctx context.Context, f models.BookingFilter) (*models.BookingPage, error) {
	rows, total, err := s.Store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &models.BookingPage{Data: rows, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// eventFor loads the booking's event for authorization. A vanished event is
// not an error: only the booking owner (or an admin) can act then.
func (s *Service) eventFor(ctx context.Context, booking *models.Booking) (*models.Event, error) {
	event, err := s.Events.GetEvent(ctx, booking.EventID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return event, err
}

// ---------------- UPDATE ----------------

func (s *Service) Update(ctx context.Context, p models.Principal, id string, upd models.BookingUpdate) (*models.Booking, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrValidation)
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.Store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		event, err := s.eventFor(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := auth.CanUpdate(p, current, event); err != nil {
			return nil, err
		}

		next, changed, err := applyUpdate(*current, upd)
		if err != nil {
			return nil, err
		}
		if !changed {
			// a repeated cancel retries a release that failed the first time
			if upd.Status != nil && *upd.Status == models.BookingCancelled && !current.Released {
				if err := s.release(ctx, current); err != nil {
					return nil, err
				}
				current.Released = true
			}
			return current, nil
		}
		next.UpdatedAt = s.now()

		applied, err := s.Store.ApplyUpdate(ctx, current, &next)
		if err != nil {
			return nil, fmt.Errorf("update booking %s: %w", id, err)
		}
		if !applied {
			s.Logger.Debug("BOOKING", fmt.Sprintf("booking %s changed underneath update, re-reading (attempt %d)", id, attempt))
			continue
		}

		msgType := models.MessageBookingUpdated
		if next.Status == models.BookingCancelled && current.Status != models.BookingCancelled {
			msgType = models.MessageBookingCancelled
			// The cancel is committed; a failed release stays claimable by a later delete.
			if err := s.release(ctx, &next); err != nil {
				s.Logger.Error("CAPACITY", fmt.Sprintf("booking %s cancelled but tickets not released: %v", id, err))
			} else {
				next.Released = true
			}
		}

		s.Logger.LogBooking("UPDATE", id, fmt.Sprintf("by=%s status=%s payment=%s", p.UserID, next.Status, next.PaymentStatus))
		s.dispatch(ctx, msgType, next, p, event)
		return &next, nil
	}

	return nil, fmt.Errorf("%w: booking %s kept changing during update", models.ErrConflict, id)
}

// ApplyPayment records a payment outcome reported by the gateway. A
// successful payment also confirms a pending booking.
func (s *Service) ApplyPayment(ctx context.Context, msg models.PaymentMessage) (*models.Booking, error) {
	if msg.BookingID == "" || !msg.Status.Valid() {
		return nil, fmt.Errorf("%w: payment message needs bookingId and a known status", models.ErrValidation)
	}

	upd := models.BookingUpdate{PaymentStatus: &msg.Status}
	if msg.TransactionID != "" {
		upd.PaymentTransactionID = &msg.TransactionID
	}

	booking, err := s.Update(ctx, models.SystemPrincipal, msg.BookingID, upd)
	if err != nil {
		return nil, err
	}

	if booking.PaymentStatus == models.PaymentPaid && booking.Status == models.BookingPending {
		confirmed := models.BookingConfirmed
		return s.Update(ctx, models.SystemPrincipal, msg.BookingID, models.BookingUpdate{Status: &confirmed})
	}
	return booking, nil
}

// ---------------- DELETE ----------------

func (s *Service) Delete(ctx context.Context, p models.Principal, id string) error {
	booking, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.CanDelete(p, booking); err != nil {
		return err
	}

	// Cancel, release, then remove: a failure at any step leaves a row whose
	// status and released flag still match the ledger.
	cancelled, err := s.cancelForDelete(ctx, booking)
	if err != nil {
		return err
	}
	if err := s.release(ctx, cancelled); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}

	s.Logger.LogBooking("DELETE", id, fmt.Sprintf("by=%s", p.UserID))
	event, _ := s.eventFor(ctx, cancelled)
	s.dispatch(ctx, models.MessageBookingDeleted, *cancelled, p, event)
	return nil
}

func (s *Service) cancelForDelete(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	current := booking
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		if current.Status == models.BookingCancelled {
			return current, nil
		}
		next := *current
		next.Status = models.BookingCancelled
		next.UpdatedAt = s.now()

		applied, err := s.Store.ApplyUpdate(ctx, current, &next)
		if err != nil {
			return nil, fmt.Errorf("cancel booking %s before delete: %w", booking.BookingID, err)
		}
		if applied {
			return &next, nil
		}
		if current, err = s.Store.GetByID(ctx, booking.BookingID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: booking %s kept changing during delete", models.ErrConflict, booking.BookingID)
}

// release returns a booking's tickets to the ledger at most once over the
// booking's lifetime.
func (s *Service) release(ctx context.Context, booking *models.Booking) error {
	claimed, err := s.Store.ClaimRelease(ctx, booking.BookingID)
	if err != nil {
		return fmt.Errorf("claim release for booking %s: %w", booking.BookingID, err)
	}
	if !claimed {
		return nil
	}

	if err := s.Inventory.Release(ctx, booking.EventID, booking.TicketsBooked); err != nil {
		if uerr := s.Store.UnclaimRelease(ctx, booking.BookingID); uerr != nil {
			s.Logger.Error("CAPACITY", fmt.Sprintf("failed to unclaim release for booking %s: %v", booking.BookingID, uerr))
		}
		return err
	}
	return nil
}

// ---------------- NOTIFY ----------------

// dispatch notifies in the background. The request may finish first, so the
// notifier gets a context that is never cancelled with it.
func (s *Service) dispatch(ctx context.Context, msgType string, booking models.Booking, p models.Principal, event *models.Event) {
	if s.Notifier == nil {
		return
	}
	msg := models.BookingMessage{
		Type:          msgType,
		BookingID:     booking.BookingID,
		UserID:        booking.UserID,
		EventID:       booking.EventID,
		TicketsBooked: booking.TicketsBooked,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		OccurredAt:    s.now(),
	}
	if p.UserID == booking.UserID {
		msg.UserEmail = p.Email
	}
	if event != nil {
		msg.EventTitle = event.Title
	}

	bg := context.WithoutCancel(ctx)
	s.notify(func() {
		if err := s.Notifier.Notify(bg, msg); err != nil {
			s.Logger.Error("NOTIFY", fmt.Sprintf("%s for booking %s: %v", msgType, booking.BookingID, err))
		}
	})
}
