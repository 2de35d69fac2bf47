package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings,alias:b"`

	BookingID            string        `bun:"booking_id,pk" json:"id"`
	UserID               string        `bun:"user_id,notnull" json:"userId"`
	EventID              string        `bun:"event_id,notnull" json:"eventId"`
	TicketsBooked        int           `bun:"tickets_booked,notnull" json:"ticketsBooked"`
	Status               BookingStatus `bun:"status,notnull" json:"status"`
	PaymentStatus        PaymentStatus `bun:"payment_status,notnull" json:"paymentStatus"`
	PaymentTransactionID string        `bun:"payment_transaction_id,nullzero" json:"paymentTransactionId,omitempty"`
	Released             bool          `bun:"released,notnull,default:false" json:"-"`
	BookingDate          time.Time     `bun:"booking_date,notnull" json:"bookingDate"`
	UpdatedAt            time.Time     `bun:"updated_at,notnull" json:"updatedAt"`
}

// BookingWithEvent is a listing row: the booking plus an explicitly joined
// event summary.
type BookingWithEvent struct {
	Booking
	Event EventSummary `json:"event"`
}

type BookingRequest struct {
	EventID       string `json:"eventId"`
	TicketsBooked int    `json:"ticketsBooked"`
}

// BookingUpdate lists every field a caller may change after creation.
// Nil means "leave as is".
type BookingUpdate struct {
	Status               *BookingStatus `json:"status,omitempty"`
	PaymentStatus        *PaymentStatus `json:"paymentStatus,omitempty"`
	PaymentTransactionID *string        `json:"paymentTransactionId,omitempty"`
}

func (u BookingUpdate) Empty() bool {
	return u.Status == nil && u.PaymentStatus == nil && u.PaymentTransactionID == nil
}

type BookingFilter struct {
	UserID  string
	EventID string
	Status  BookingStatus
	Page    int
	Limit   int
}

func (f BookingFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type BookingPage struct {
	Data  []BookingWithEvent `json:"data"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

const (
	MessageBookingCreated   = "booking.created"
	MessageBookingUpdated   = "booking.updated"
	MessageBookingCancelled = "booking.cancelled"
	MessageBookingDeleted   = "booking.deleted"
)

// BookingMessage is the payload published on booking lifecycle topics.
type BookingMessage struct {
	Type          string        `json:"type"`
	BookingID     string        `json:"bookingId"`
	UserID        string        `json:"userId"`
	UserEmail     string        `json:"userEmail,omitempty"`
	EventID       string        `json:"eventId"`
	EventTitle    string        `json:"eventTitle,omitempty"`
	TicketsBooked int           `json:"ticketsBooked"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

// PaymentMessage is consumed from the payment gateway's status topic.
type PaymentMessage struct {
	BookingID     string        `json:"bookingId"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId"`
}
