package auth

import (
	"fmt"

	"ms-booking/internal/models"
)

// Guard decisions take already-loaded records, so callers look things up
// first and a missing record surfaces as not found before any 403.

func requireAuthenticated(p models.Principal) error {
	if p.UserID == "" {
		return models.ErrUnauthenticated
	}
	return nil
}

// CanCreate allows any active user to book.
func CanCreate(p models.Principal) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if !p.Active() {
		return fmt.Errorf("%w: account is %s", models.ErrForbidden, p.Status)
	}
	return nil
}

// CanListOwn allows any authenticated user to list their own bookings.
func CanListOwn(p models.Principal) error {
	return requireAuthenticated(p)
}

// CanReadEventBookings allows only the event's creator.
func CanReadEventBookings(p models.Principal, event *models.Event) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if event.OwnerID != p.UserID {
		return fmt.Errorf("%w: not authorized to view bookings for this event", models.ErrForbidden)
	}
	return nil
}

// CanReadBooking allows the booking owner, the event creator or an
// administrator. event may be nil when the event record is gone.
func CanReadBooking(p models.Principal, booking *models.Booking, event *models.Event) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if p.IsAdmin || booking.UserID == p.UserID || (event != nil && event.OwnerID == p.UserID) {
		return nil
	}
	return fmt.Errorf("%w: not authorized to view this booking", models.ErrForbidden)
}

// CanUpdate allows the booking owner, the event creator or an administrator.
func CanUpdate(p models.Principal, booking *models.Booking, event *models.Event) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if p.IsAdmin || booking.UserID == p.UserID || (event != nil && event.OwnerID == p.UserID) {
		return nil
	}
	return fmt.Errorf("%w: not authorized to update this booking", models.ErrForbidden)
}

// CanDelete allows only the user who booked.
func CanDelete(p models.Principal, booking *models.Booking) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if booking.UserID != p.UserID {
		return fmt.Errorf("%w: not authorized to delete this booking", models.ErrForbidden)
	}
	return nil
}
