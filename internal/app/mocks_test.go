package app_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// --- Mocks ---

// mockStore is an in-memory domain.Store. RunInTx snapshots the maps and
// restores them when fn fails, so rollback behaves like a real database.
// afterCommit, when set, runs once right after the next successful commit.
type mockStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	slots     map[string]domain.Slot
	bookings  map[string]domain.Booking
	customers map[string]domain.Customer

	getSlotErr       error
	upsertErr        error
	createBookingErr error
	claimErr         error
	releaseErr       error
	inTx             bool

	afterCommit func()
}

func newMockStore() *mockStore {
	return &mockStore{
		slots:     make(map[string]domain.Slot),
		bookings:  make(map[string]domain.Booking),
		customers: make(map[string]domain.Customer),
	}
}

func (m *mockStore) RunInTx(_ context.Context, fn func(tx domain.Store) error) error {
	m.txMu.Lock()

	m.mu.Lock()
	slots, bookings, customers := maps.Clone(m.slots), maps.Clone(m.bookings), maps.Clone(m.customers)
	m.inTx = true
	m.mu.Unlock()

	err := fn(m)

	m.mu.Lock()
	m.inTx = false
	if err != nil {
		m.slots, m.bookings, m.customers = slots, bookings, customers
	}
	hook := m.afterCommit
	if err == nil {
		m.afterCommit = nil
	}
	m.mu.Unlock()
	m.txMu.Unlock()

	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (m *mockStore) CreateSlot(_ context.Context, s domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[s.ID] = s
	return nil
}

func (m *mockStore) GetSlot(_ context.Context, id string) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSlotErr != nil {
		return domain.Slot{}, m.getSlotErr
	}
	s, ok := m.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	return s, nil
}

func (m *mockStore) ListSlots(_ context.Context, f domain.SlotFilter) ([]domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Slot
	for _, s := range m.slots {
		if !f.From.IsZero() && s.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.StartTime.Before(f.To) {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if s.ID == f.ExcludeSlotID {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.Slot) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func (m *mockStore) SetSlotStatus(_ context.Context, id string, status domain.SlotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return domain.ErrSlotNotFound
	}
	s.Status = status
	m.slots[id] = s
	return nil
}

func (m *mockStore) ClaimSlot(_ context.Context, id string, t domain.SessionType, n int) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return domain.Slot{}, m.claimErr
	}
	s, ok := m.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	if err := s.CheckClaim(t, n); err != nil {
		return domain.Slot{}, domain.ErrClaimConflict
	}
	s.Claim(t, n)
	m.slots[id] = s
	return s, nil
}

func (m *mockStore) ReleaseSlot(_ context.Context, id string, n int) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return domain.Slot{}, m.releaseErr
	}
	s, ok := m.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	s.Release(n)
	m.slots[id] = s
	return s, nil
}

func (m *mockStore) SetSlotOccupancy(_ context.Context, id string, count int) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	s.BookedCount = count
	if count == 0 {
		s.Type = domain.SessionOpen
	}
	m.slots[id] = s
	return s, nil
}

func (m *mockStore) CreateBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createBookingErr != nil {
		return m.createBookingErr
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *mockStore) GetBooking(_ context.Context, id string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (m *mockStore) GetBookingByToken(_ context.Context, token string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ManagementToken == token {
			return b, nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (m *mockStore) UpdateBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return domain.ErrBookingNotFound
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *mockStore) ActiveHeadcount(_ context.Context, slotID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.SlotID == slotID && !b.IsCancelled() {
			n += b.PeopleCount
		}
	}
	return n, nil
}

func (m *mockStore) UpsertCustomer(_ context.Context, name, phone string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return domain.Customer{}, m.upsertErr
	}
	for id, c := range m.customers {
		if c.Phone == phone {
			c.Name = name
			m.customers[id] = c
			return c, nil
		}
	}
	c := domain.Customer{ID: "c-" + phone, Name: name, Phone: phone, CreatedAt: time.Now()}
	m.customers[c.ID] = c
	return c, nil
}

func (m *mockStore) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

// slot reads a slot directly, bypassing injected errors.
func (m *mockStore) slot(id string) domain.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

func (m *mockStore) booking(id string) domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

type mockPublisher struct {
	mu     sync.Mutex
	err    error
	events []publishedEvent
}

type publishedEvent struct {
	event   domain.Event
	booking domain.Booking
}

func (m *mockPublisher) Publish(_ context.Context, e domain.Event, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{event: e, booking: b})
	return m.err
}

func (m *mockPublisher) kinds() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.event
	}
	return out
}

type mockReconciler struct {
	requests []string
	err      error
}

func (m *mockReconciler) RequestReconcile(_ context.Context, slotID, _ string) error {
	m.requests = append(m.requests, slotID)
	return m.err
}

type mockRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *mockRecorder) Record(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[op+"/"+outcome]++
}

func (m *mockRecorder) count(op, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op+"/"+outcome]
}

var errDisk = errors.New("disk I/O error")
