package domain

import (
	"context"
	"time"
)

// SlotRepository defines the persistence contract for slots.
type SlotRepository interface {
	CreateSlot(ctx context.Context, slot Slot) error
	GetSlot(ctx context.Context, id string) (Slot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error)
	SetSlotStatus(ctx context.Context, id string, status SlotStatus) error

	// ClaimSlot adds partySize to the slot in a single conditional write.
	// The write only happens if the slot is AVAILABLE, has room for the
	// party and accepts sessionType; otherwise ErrClaimConflict is returned.
	// An empty slot takes sessionType as its type.
	ClaimSlot(ctx context.Context, id string, sessionType SessionType, partySize int) (Slot, error)

	// ReleaseSlot removes partySize from the slot, flooring at zero, and
	// resets the type to OPEN when the slot becomes empty.
	ReleaseSlot(ctx context.Context, id string, partySize int) (Slot, error)

	// SetSlotOccupancy overwrites the count; used by reconciliation only.
	SetSlotOccupancy(ctx context.Context, id string, count int) (Slot, error)
}

// SlotFilter holds criteria for listing slots.
type SlotFilter struct {
	From          time.Time // inclusive
	To            time.Time // exclusive
	Status        *SlotStatus
	ExcludeSlotID string
}

// BookingRepository defines the persistence contract for bookings.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	GetBookingByToken(ctx context.Context, token string) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking) error

	// ActiveHeadcount sums the people of non-cancelled bookings on a slot.
	ActiveHeadcount(ctx context.Context, slotID string) (int, error)
}

// CustomerRepository defines the persistence contract for customers.
type CustomerRepository interface {
	// UpsertCustomer finds a customer by phone and overwrites the name, or
	// creates a new one.
	UpsertCustomer(ctx context.Context, name, phone string) (Customer, error)
	GetCustomer(ctx context.Context, id string) (Customer, error)
}

// Store bundles the repositories and runs multi-step operations atomically.
type Store interface {
	SlotRepository
	BookingRepository
	CustomerRepository

	// RunInTx calls fn with a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// EventPublisher defines the contract for emitting booking events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, booking Booking) error
}

// SlotReconciler schedules a recount of a slot whose bookkeeping failed.
type SlotReconciler interface {
	RequestReconcile(ctx context.Context, slotID, reason string) error
}

// TransitionValidator checks booking lifecycle transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// WizardValidator checks booking wizard transitions.
type WizardValidator interface {
	ApplyWizard(ctx context.Context, current WizardState, event WizardEvent) (WizardState, error)
}

// Outcome labels passed to the OutcomeRecorder.
const (
	OutcomeOK       = "ok"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeDegraded = "degraded"
)

// OutcomeRecorder counts operation outcomes for monitoring.
type OutcomeRecorder interface {
	Record(operation, outcome string)
}
