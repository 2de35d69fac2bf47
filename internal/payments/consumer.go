// Package payments applies payment outcomes from the gateway feed to bookings.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	kafkago "github.com/segmentio/kafka-go"
)

type PaymentApplier interface {
	ApplyPayment(ctx context.Context, msg models.PaymentMessage) (*models.Booking, error)
}

type Handler struct {
	Bookings PaymentApplier
	Logger   *logger.Logger
}

// HandleMessage is the kafka.Handler for the payment status topic. Messages
// that can never apply (bad JSON, unknown booking, illegal transition) are
// logged and dropped.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var msg models.PaymentMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		h.Logger.Warn("PAYMENT", fmt.Sprintf("skipping undecodable payment message at offset %d: %v", m.Offset, err))
		return nil
	}

	booking, err := h.Bookings.ApplyPayment(ctx, msg)
	switch {
	case err == nil:
		h.Logger.LogBooking("PAYMENT", booking.BookingID, fmt.Sprintf("payment=%s status=%s", booking.PaymentStatus, booking.Status))
		return nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrValidation):
		h.Logger.Warn("PAYMENT", fmt.Sprintf("skipping payment for booking %s: %v", msg.BookingID, err))
		return nil
	default:
		return fmt.Errorf("apply payment for booking %s: %w", msg.BookingID, err)
	}
}
