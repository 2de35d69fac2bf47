package booking_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type BookingService interface {
	Create(ctx context.Context, p models.Principal, req models.BookingRequest) (*models.Booking, error)
	ListMine(ctx context.Context, p models.Principal, q booking.ListQuery) (*models.BookingPage, error)
	ListForEvent(ctx context.Context, p models.Principal, eventID string, q booking.ListQuery) (*models.BookingPage, error)
	Get(ctx context.Context, p models.Principal, id string) (*models.Booking, error)
	Update(ctx context.Context, p models.Principal, id string, upd models.BookingUpdate) (*models.Booking, error)
	Delete(ctx context.Context, p models.Principal, id string) error
}

type AvailabilityReader interface {
	Available(ctx context.Context, eventID string) (models.CapacitySnapshot, error)
}

type Handler struct {
	BookingService BookingService
	Inventory      AvailabilityReader
	Logger         *logger.Logger
}

// RegisterRoutes mounts the booking routes behind authMW and the public
// availability route outside it.
func (h *Handler) RegisterRoutes(r chi.Router, authMW func(http.Handler) http.Handler) {
	r.Get("/api/events/{eventId}/availability", h.GetAvailability)

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Route("/api/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/user", h.ListMyBookings)
			r.Get("/event/{eventId}", h.ListEventBookings)
			r.Get("/{bookingId}", h.GetBooking)
			r.Put("/{bookingId}", h.UpdateBooking)
			r.Delete("/{bookingId}", h.DeleteBooking)
		})
	})
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	var req models.BookingRequest
	if err := decodeStrict(r, &req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateBooking: invalid body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Event ID and ticketsBooked are required", err.Error()))
		return
	}

	created, err := h.BookingService.Create(r.Context(), p, req)
	if err != nil {
		h.writeError(w, "CreateBooking", "Error creating booking", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Booking created successfully", created))
}

func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	q, err := parseListQuery(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid query", err.Error()))
		return
	}

	page, err := h.BookingService.ListMine(r.Context(), p, q)
	if err != nil {
		h.writeError(w, "ListMyBookings", "Error fetching user bookings", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.PagedResponse("Bookings fetched", page.Data, page.Total, page.Page, page.Limit))
}

func (h *Handler) ListEventBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	eventID := chi.URLParam(r, "eventId")

	q, err := parseListQuery(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid query", err.Error()))
		return
	}

	page, err := h.BookingService.ListForEvent(r.Context(), p, eventID, q)
	if err != nil {
		h.writeError(w, "ListEventBookings", "Error fetching event bookings", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.PagedResponse("Bookings fetched", page.Data, page.Total, page.Page, page.Limit))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	bookingID := chi.URLParam(r, "bookingId")

	found, err := h.BookingService.Get(r.Context(), p, bookingID)
	if err != nil {
		h.writeError(w, "GetBooking", "Error fetching booking", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking fetched", found))
}

func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	bookingID := chi.URLParam(r, "bookingId")

	var upd models.BookingUpdate
	if err := decodeStrict(r, &upd); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("UpdateBooking: invalid body for %s: %v", bookingID, err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid update", err.Error()))
		return
	}

	updated, err := h.BookingService.Update(r.Context(), p, bookingID, upd)
	if err != nil {
		h.writeError(w, "UpdateBooking", "Error updating booking", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking updated", updated))
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	bookingID := chi.URLParam(r, "bookingId")

	if err := h.BookingService.Delete(r.Context(), p, bookingID); err != nil {
		h.writeError(w, "DeleteBooking", "Error deleting booking", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking deleted", nil))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	snap, err := h.Inventory.Available(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "GetAvailability", "Error fetching availability", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability fetched", models.AvailabilityResponse{
		EventID:          snap.EventID,
		TicketsAvailable: snap.Available,
		TotalCapacity:    snap.Total,
	}))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

// writeError maps domain errors onto status codes. Anything unclassified is a
// 500 and its detail stays in the log.
func (h *Handler) writeError(w http.ResponseWriter, op, message string, err error) {
	var capErr *models.InsufficientCapacityError

	switch {
	case errors.As(err, &capErr):
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{
			Success:   false,
			Message:   fmt.Sprintf("Invalid tickets number. Max available: %d", capErr.Available),
			Error:     err.Error(),
			Data:      map[string]int{"ticketsAvailable": capErr.Available},
			Timestamp: time.Now(),
		})
	case errors.Is(err, models.ErrValidation):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(message, err.Error()))
	case errors.Is(err, models.ErrUnauthenticated):
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", err.Error()))
	case errors.Is(err, models.ErrForbidden):
		h.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Not authorized", err.Error()))
	case errors.Is(err, models.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	case errors.Is(err, models.ErrConflict):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Booking is busy, please retry", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse(message, "internal error"))
	}
}

// decodeStrict rejects unknown fields so callers cannot smuggle in
// ticketsBooked, userId or anything else not meant to be written.
func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func parseListQuery(r *http.Request) (booking.ListQuery, error) {
	values := r.URL.Query()
	q := booking.ListQuery{Status: values.Get("status")}

	if s := values.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, fmt.Errorf("page must be a positive integer")
		}
		q.Page = n
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
