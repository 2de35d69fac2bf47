package booking

import (
	"fmt"

	"ms-booking/internal/models"
)

var statusTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending:   {models.BookingConfirmed, models.BookingCancelled},
	models.BookingConfirmed: {models.BookingCancelled},
	models.BookingCancelled: {},
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentUnpaid: {models.PaymentPaid, models.PaymentFailed},
	models.PaymentPaid:   {models.PaymentFailed},
	models.PaymentFailed: {},
}

// CanTransitionStatus reports whether a booking may move from one status to
// another. Staying put is always allowed.
func CanTransitionStatus(from, to models.BookingStatus) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionPayment(from, to models.PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyUpdate returns the booking as it would look after upd, and whether
// anything actually changes.
func applyUpdate(current models.Booking, upd models.BookingUpdate) (models.Booking, bool, error) {
	next := current
	changed := false

	if upd.Status != nil {
		to := *upd.Status
		if !to.Valid() {
			return current, false, fmt.Errorf("%w: unknown status %q", models.ErrValidation, to)
		}
		if !CanTransitionStatus(current.Status, to) {
			return current, false, fmt.Errorf("%w: cannot move booking from %s to %s", models.ErrValidation, current.Status, to)
		}
		changed = changed || to != current.Status
		next.Status = to
	}

	if upd.PaymentStatus != nil {
		to := *upd.PaymentStatus
		if !to.Valid() {
			return current, false, fmt.Errorf("%w: unknown paymentStatus %q", models.ErrValidation, to)
		}
		if !CanTransitionPayment(current.PaymentStatus, to) {
			return current, false, fmt.Errorf("%w: cannot move payment from %s to %s", models.ErrValidation, current.PaymentStatus, to)
		}
		changed = changed || to != current.PaymentStatus
		next.PaymentStatus = to
	}

	if upd.PaymentTransactionID != nil && *upd.PaymentTransactionID != current.PaymentTransactionID {
		next.PaymentTransactionID = *upd.PaymentTransactionID
		changed = true
	}

	return next, changed, nil
}
