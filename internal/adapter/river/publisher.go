package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// Compile-time checks: Publisher implements the event and reconcile ports.
var (
	_ domain.EventPublisher = (*Publisher)(nil)
	_ domain.SlotReconciler = (*Publisher)(nil)
)

// BookingEventArgs carries a snapshot of the booking at the time the event
// was published, so the notification worker never needs to query the
// database.
type BookingEventArgs struct {
	Event           string `json:"event"`
	BookingID       string `json:"booking_id"`
	SlotID          string `json:"slot_id"`
	CustomerID      string `json:"customer_id"`
	Status          string `json:"status"`
	SessionType     string `json:"session_type"`
	People          int    `json:"people"`
	TotalCents      int64  `json:"total_cents"`
	RescheduleCount int    `json:"reschedule_count"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (BookingEventArgs) Kind() string { return "booking.event" }

// ReconcileSlotArgs asks for a slot's occupancy to be recounted.
type ReconcileSlotArgs struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ReconcileSlotArgs) Kind() string { return "slot.reconcile" }

// InsertOpts routes reconciliation to its own queue.
func (ReconcileSlotArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueMaintenance, MaxAttempts: 10}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher enqueues booking events and reconciliation requests as River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a booking event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, event domain.Event, b domain.Booking) error {
	_, err := p.client.Insert(ctx, BookingEventArgs{
		Event:           string(event),
		BookingID:       b.ID,
		SlotID:          b.SlotID,
		CustomerID:      b.CustomerID,
		Status:          string(b.Status),
		SessionType:     string(b.SessionType),
		People:          b.PeopleCount,
		TotalCents:      b.TotalCents,
		RescheduleCount: b.RescheduleCount,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing booking event job: %w", err)
	}
	return nil
}

// RequestReconcile enqueues a recount of the slot.
func (p *Publisher) RequestReconcile(ctx context.Context, slotID, reason string) error {
	_, err := p.client.Insert(ctx, ReconcileSlotArgs{SlotID: slotID, Reason: reason}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing reconcile job: %w", err)
	}
	return nil
}
