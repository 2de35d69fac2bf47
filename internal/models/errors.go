package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrConflict             = errors.New("reservation conflict, retry")
	ErrExternalService      = errors.New("external service error")
	ErrOverRelease          = errors.New("release exceeds total capacity")
)

// InsufficientCapacityError reports the availability observed when a
// reservation was refused.
type InsufficientCapacityError struct {
	EventID   string
	Requested int
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity for event %s: requested %d, available %d",
		e.EventID, e.Requested, e.Available)
}

func (e *InsufficientCapacityError) Is(target error) bool {
	return target == ErrInsufficientCapacity
}
