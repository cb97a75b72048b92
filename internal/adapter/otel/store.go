package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/pitlane/internal/domain"
)

const tracerName = "github.com/neomorfeo/pitlane/internal/adapter/otel"

// TracingStore wraps a domain.Store with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
// Stores handed out by RunInTx are wrapped too, so statements inside a
// transaction show up as children of the Store.RunInTx span.
type TracingStore struct {
	next   domain.Store
	tracer trace.Tracer
}

// Compile-time check: TracingStore implements domain.Store.
var _ domain.Store = (*TracingStore)(nil)

// NewTracingStore creates a tracing decorator around the given store.
func NewTracingStore(next domain.Store) *TracingStore {
	return &TracingStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *TracingStore) RunInTx(ctx context.Context, fn func(tx domain.Store) error) error {
	ctx, span := s.tracer.Start(ctx, "Store.RunInTx")

	err := s.next.RunInTx(ctx, func(tx domain.Store) error {
		return fn(&TracingStore{next: tx, tracer: s.tracer})
	})
	finish(span, err)
	return err
}

// --- Slots ---

func (s *TracingStore) CreateSlot(ctx context.Context, slot domain.Slot) error {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.CreateSlot",
		trace.WithAttributes(
			attribute.String("slot.id", slot.ID),
			attribute.String("slot.start_time", slot.StartTime.Format("2006-01-02T15:04:05Z07:00")),
		),
	)

	err := s.next.CreateSlot(ctx, slot)
	finish(span, err)
	return err
}

func (s *TracingStore) GetSlot(ctx context.Context, id string) (domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.GetSlot",
		trace.WithAttributes(attribute.String("slot.id", id)),
	)

	slot, err := s.next.GetSlot(ctx, id)
	finish(span, err)
	return slot, err
}

func (s *TracingStore) ListSlots(ctx context.Context, filter domain.SlotFilter) ([]domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.ListSlots")
	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}
	if filter.ExcludeSlotID != "" {
		span.SetAttributes(attribute.String("filter.exclude_slot_id", filter.ExcludeSlotID))
	}

	slots, err := s.next.ListSlots(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(slots)))
	}
	finish(span, err)
	return slots, err
}

func (s *TracingStore) SetSlotStatus(ctx context.Context, id string, status domain.SlotStatus) error {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.SetSlotStatus",
		trace.WithAttributes(
			attribute.String("slot.id", id),
			attribute.String("slot.status", string(status)),
		),
	)

	err := s.next.SetSlotStatus(ctx, id, status)
	finish(span, err)
	return err
}

func (s *TracingStore) ClaimSlot(ctx context.Context, id string, sessionType domain.SessionType, partySize int) (domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.ClaimSlot",
		trace.WithAttributes(
			attribute.String("slot.id", id),
			attribute.String("booking.session_type", string(sessionType)),
			attribute.Int("booking.people", partySize),
		),
	)

	slot, err := s.next.ClaimSlot(ctx, id, sessionType, partySize)
	if err == nil {
		span.SetAttributes(attribute.Int("slot.booked_count", slot.BookedCount))
	}
	finish(span, err)
	return slot, err
}

func (s *TracingStore) ReleaseSlot(ctx context.Context, id string, partySize int) (domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.ReleaseSlot",
		trace.WithAttributes(
			attribute.String("slot.id", id),
			attribute.Int("booking.people", partySize),
		),
	)

	slot, err := s.next.ReleaseSlot(ctx, id, partySize)
	if err == nil {
		span.SetAttributes(attribute.Int("slot.booked_count", slot.BookedCount))
	}
	finish(span, err)
	return slot, err
}

func (s *TracingStore) SetSlotOccupancy(ctx context.Context, id string, count int) (domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "SlotRepository.SetSlotOccupancy",
		trace.WithAttributes(
			attribute.String("slot.id", id),
			attribute.Int("slot.booked_count", count),
		),
	)

	slot, err := s.next.SetSlotOccupancy(ctx, id, count)
	finish(span, err)
	return slot, err
}

// --- Bookings ---

func (s *TracingStore) CreateBooking(ctx context.Context, b domain.Booking) error {
	ctx, span := s.tracer.Start(ctx, "BookingRepository.CreateBooking",
		trace.WithAttributes(
			attribute.String("booking.id", b.ID),
			attribute.String("slot.id", b.SlotID),
			attribute.Int("booking.people", b.PeopleCount),
		),
	)

	err := s.next.CreateBooking(ctx, b)
	finish(span, err)
	return err
}

func (s *TracingStore) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "BookingRepository.GetBooking",
		trace.WithAttributes(attribute.String("booking.id", id)),
	)

	b, err := s.next.GetBooking(ctx, id)
	finish(span, err)
	return b, err
}

// GetBookingByToken never puts the token on the span; it is a credential.
func (s *TracingStore) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "BookingRepository.GetBookingByToken")

	b, err := s.next.GetBookingByToken(ctx, token)
	if err == nil {
		span.SetAttributes(attribute.String("booking.id", b.ID))
	}
	finish(span, err)
	return b, err
}

func (s *TracingStore) UpdateBooking(ctx context.Context, b domain.Booking) error {
	ctx, span := s.tracer.Start(ctx, "BookingRepository.UpdateBooking",
		trace.WithAttributes(
			attribute.String("booking.id", b.ID),
			attribute.String("booking.status", string(b.Status)),
			attribute.String("slot.id", b.SlotID),
		),
	)

	err := s.next.UpdateBooking(ctx, b)
	finish(span, err)
	return err
}

func (s *TracingStore) ActiveHeadcount(ctx context.Context, slotID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "BookingRepository.ActiveHeadcount",
		trace.WithAttributes(attribute.String("slot.id", slotID)),
	)

	n, err := s.next.ActiveHeadcount(ctx, slotID)
	if err == nil {
		span.SetAttributes(attribute.Int("result.headcount", n))
	}
	finish(span, err)
	return n, err
}

// --- Customers ---

func (s *TracingStore) UpsertCustomer(ctx context.Context, name, phone string) (domain.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerRepository.UpsertCustomer")

	c, err := s.next.UpsertCustomer(ctx, name, phone)
	if err == nil {
		span.SetAttributes(attribute.String("customer.id", c.ID))
	}
	finish(span, err)
	return c, err
}

func (s *TracingStore) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerRepository.GetCustomer",
		trace.WithAttributes(attribute.String("customer.id", id)),
	)

	c, err := s.next.GetCustomer(ctx, id)
	finish(span, err)
	return c, err
}
