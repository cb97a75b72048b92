package domain

import "time"

// Status represents the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Event represents an action that triggers a booking state transition or is
// announced to the outside world after a successful operation.
type Event string

const (
	EventConfirm     Event = "confirm"
	EventCancel      Event = "cancel"
	EventCreated     Event = "booking_created"
	EventRescheduled Event = "booking_rescheduled"
	EventCancelled   Event = "booking_cancelled"
)

// Transition defines a valid state change: an event moves a booking from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the booking lifecycle.
// CANCELLED has no outgoing transition.
var Transitions = []Transition{
	{Event: EventConfirm, Src: StatusPending, Dst: StatusConfirmed},
	{Event: EventCancel, Src: StatusPending, Dst: StatusCancelled},
	{Event: EventCancel, Src: StatusConfirmed, Dst: StatusCancelled},
}

// MaxReschedules is how many times a booking may move to another slot.
const MaxReschedules = 1

// Booking is one customer's reservation against a single slot.
type Booking struct {
	ID              string
	Status          Status
	PeopleCount     int
	TotalCents      int64
	SessionType     SessionType
	SlotID          string
	CustomerID      string
	RescheduleCount int
	ManagementToken string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBooking creates a confirmed booking that has never been rescheduled.
func NewBooking(id, token, slotID, customerID string, sessionType SessionType, people int, totalCents int64) Booking {
	now := time.Now().UTC()
	return Booking{
		ID:              id,
		Status:          StatusConfirmed,
		PeopleCount:     people,
		TotalCents:      totalCents,
		SessionType:     sessionType,
		SlotID:          slotID,
		CustomerID:      customerID,
		ManagementToken: token,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsCancelled reports whether the booking reached its terminal state.
func (b Booking) IsCancelled() bool {
	return b.Status == StatusCancelled
}

// CanReschedule returns nil if the booking may still move to another slot.
func (b Booking) CanReschedule() error {
	if b.IsCancelled() {
		return ErrBookingCancelled
	}
	if b.RescheduleCount >= MaxReschedules {
		return ErrRescheduleLimit
	}
	return nil
}

// MoveTo points the booking at a new slot and consumes one reschedule.
func (b *Booking) MoveTo(slotID string, now time.Time) {
	b.SlotID = slotID
	b.RescheduleCount++
	b.UpdatedAt = now.UTC()
}
