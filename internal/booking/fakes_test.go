package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/stretchr/testify/mock"
)

// memStore keeps bookings in a map with the same conditional-write rules as
// the SQL store.
type memStore struct {
	mu        sync.Mutex
	bookings  map[string]models.Booking
	events    map[string]models.Event
	insertErr error
	deleteErr error
	// beforeApply runs once inside the next ApplyUpdate, before the check.
	beforeApply func(b *models.Booking)
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]models.Booking{}, events: map[string]models.Event{}}
}

func (m *memStore) Insert(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.bookings[b.BookingID] = *b
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	return &b, nil
}

func (m *memStore) ApplyUpdate(_ context.Context, prev, next *models.Booking) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[prev.BookingID]
	if !ok {
		return false, nil
	}
	if m.beforeApply != nil {
		m.beforeApply(&b)
		m.bookings[prev.BookingID] = b
		m.beforeApply = nil
	}
	if b.Status != prev.Status || b.PaymentStatus != prev.PaymentStatus {
		return false, nil
	}
	b.Status = next.Status
	b.PaymentStatus = next.PaymentStatus
	b.PaymentTransactionID = next.PaymentTransactionID
	b.UpdatedAt = next.UpdatedAt
	m.bookings[prev.BookingID] = b
	return true, nil
}

func (m *memStore) ClaimRelease(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Released {
		return false, nil
	}
	b.Released = true
	m.bookings[id] = b
	return true, nil
}

func (m *memStore) UnclaimRelease(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[id]; ok {
		b.Released = false
		m.bookings[id] = b
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.bookings, id)
	return nil
}

func (m *memStore) List(_ context.Context, f models.BookingFilter) ([]models.BookingWithEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.BookingWithEvent
	for _, b := range m.bookings {
		if (f.UserID != "" && b.UserID != f.UserID) ||
			(f.EventID != "" && b.EventID != f.EventID) ||
			(f.Status != "" && b.Status != f.Status) {
			continue
		}
		ev := m.events[b.EventID]
		all = append(all, models.BookingWithEvent{
			Booking: b,
			Event:   models.EventSummary{ID: ev.ID, Title: ev.Title, StartsAt: ev.StartsAt},
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].BookingDate.Equal(all[j].BookingDate) {
			return all[i].BookingDate.After(all[j].BookingDate)
		}
		return all[i].BookingID > all[j].BookingID
	})
	total := len(all)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	return &ev, nil
}

// memLedger is a ConditionalLedger so the real AtomicController runs in tests.
type memLedger struct {
	mu      sync.Mutex
	entries map[string]*models.CapacitySnapshot
}

func (l *memLedger) TryReserve(_ context.Context, id string, qty int) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok || e.Available < qty {
		return 0, false, nil
	}
	e.Available -= qty
	return e.Available, true, nil
}

func (l *memLedger) TryRelease(_ context.Context, id string, qty int) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok || e.Available+qty > e.Total {
		return 0, false, nil
	}
	e.Available += qty
	return e.Available, true, nil
}

func (l *memLedger) Snapshot(_ context.Context, id string) (models.CapacitySnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return models.CapacitySnapshot{}, fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	return *e, nil
}

func (l *memLedger) Open(_ context.Context, ev models.Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[ev.ID]; ok {
		return false, nil
	}
	l.entries[ev.ID] = &models.CapacitySnapshot{EventID: ev.ID, Available: ev.TotalCapacity, Total: ev.TotalCapacity}
	return true, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.BookingMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.BookingMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		out = append(out, m.Type)
	}
	return out
}

// MockController is used where a test needs to script ledger failures.
type MockController struct {
	mock.Mock
}

func (m *MockController) Reserve(ctx context.Context, eventID string, qty int) (models.Reservation, error) {
	args := m.Called(ctx, eventID, qty)
	return args.Get(0).(models.Reservation), args.Error(1)
}

func (m *MockController) Release(ctx context.Context, eventID string, qty int) error {
	args := m.Called(ctx, eventID, qty)
	return args.Error(0)
}

func (m *MockController) Available(ctx context.Context, eventID string) (models.CapacitySnapshot, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(models.CapacitySnapshot), args.Error(1)
}

func (m *MockController) Open(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type fixture struct {
	svc      *Service
	store    *memStore
	ledger   *memLedger
	inv      inventory.Controller
	notifier *recordingNotifier
}

var (
	alice = models.Principal{UserID: "alice", Email: "alice@example.com", Status: "active"}
	bob   = models.Principal{UserID: "bob", Email: "bob@example.com", Status: "active"}
	org   = models.Principal{UserID: "org", Email: "org@example.com", Status: "active"}
)

func newFixture() *fixture {
	quiet := logger.NewWithWriter(io.Discard, logger.ERROR)
	store := newMemStore()
	ledger := &memLedger{entries: map[string]*models.CapacitySnapshot{}}
	inv := inventory.NewAtomicController(ledger, quiet)
	notifier := &recordingNotifier{}

	svc := NewService(store, store, inv, notifier, quiet, Paging{DefaultLimit: 10, MaxLimit: 100})
	svc.notify = func(f func()) { f() }

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("B%03d", seq)
	}

	return &fixture{svc: svc, store: store, ledger: ledger, inv: inv, notifier: notifier}
}

func (f *fixture) addEvent(id, owner string, capacity int) {
	ev := models.Event{ID: id, OwnerID: owner, Title: "Event " + id, TotalCapacity: capacity, TicketsAvailable: capacity}
	f.store.events[id] = ev
	_, _ = f.ledger.Open(context.Background(), ev)
}

func (f *fixture) available(id string) int {
	snap, err := f.ledger.Snapshot(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return snap.Available
}

// activeTickets sums tickets held by bookings that have not released them.
func (f *fixture) activeTickets(eventID string) int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	sum := 0
	for _, b := range f.store.bookings {
		if b.EventID == eventID && !b.Released {
			sum += b.TicketsBooked
		}
	}
	return sum
}

var errBoom = errors.New("boom")
