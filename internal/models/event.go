package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is the capacity-bearing side of an organizer's event. Content fields
// (description, venue, images) live in the event service; only what booking
// needs is mirrored here.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID               string    `bun:"id,pk" json:"id"`
	OwnerID          string    `bun:"owner_id,notnull" json:"ownerId"`
	Title            string    `bun:"title,notnull" json:"title"`
	StartsAt         time.Time `bun:"starts_at,notnull" json:"startsAt"`
	TotalCapacity    int       `bun:"total_capacity,notnull" json:"totalCapacity"`
	TicketsAvailable int       `bun:"tickets_available,notnull" json:"ticketsAvailable"`
	Version          int64     `bun:"version,notnull,default:0" json:"-"`
	CreatedAt        time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// EventSummary is the event projection embedded in booking listings.
type EventSummary struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
}

// CapacitySnapshot is a point-in-time read of an event's ledger entry.
type CapacitySnapshot struct {
	EventID   string
	Available int
	Total     int
	Version   int64
}

// Reservation is the proof that qty units were deducted from an event's ledger.
type Reservation struct {
	EventID   string
	Quantity  int
	Remaining int
}

// CapacityMessage is published by the event service when an event's capacity
// is registered.
type CapacityMessage struct {
	EventID       string    `json:"eventId"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"startsAt"`
	TotalCapacity int       `json:"totalCapacity"`
}

type AvailabilityResponse struct {
	EventID          string `json:"eventId"`
	TicketsAvailable int    `json:"ticketsAvailable"`
	TotalCapacity    int    `json:"totalCapacity"`
}
