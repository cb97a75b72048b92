package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// Schedule describes how a business day is split into slots. Opening and
// Closing are offsets from local midnight; the last slot must end by Closing.
type Schedule struct {
	Opening  time.Duration
	Closing  time.Duration
	Interval time.Duration
	Duration time.Duration
	Capacity int
}

// DefaultSchedule runs 25-minute sessions every half hour from 10:00 to 22:00.
var DefaultSchedule = Schedule{
	Opening:  10 * time.Hour,
	Closing:  22 * time.Hour,
	Interval: 30 * time.Minute,
	Duration: 25 * time.Minute,
	Capacity: domain.DefaultSlotCapacity,
}

// Validate checks that the schedule can produce at least one slot.
func (s Schedule) Validate() error {
	switch {
	case s.Interval <= 0:
		return &domain.ValidationError{Field: "interval", Reason: "must be positive"}
	case s.Duration <= 0 || s.Duration > s.Interval:
		return &domain.ValidationError{Field: "duration", Reason: "must be positive and fit the interval"}
	case s.Opening < 0 || s.Closing > 24*time.Hour || s.Opening+s.Duration > s.Closing:
		return &domain.ValidationError{Field: "closing", Reason: "must leave room for one session after opening"}
	case s.Capacity < 1:
		return &domain.ValidationError{Field: "capacity", Reason: "must be at least 1"}
	}
	return nil
}

// SlotService manages the slot calendar.
type SlotService struct {
	store    domain.SlotRepository
	schedule Schedule
	location *time.Location
}

// NewSlotService creates a slot service for the given schedule and time zone.
func NewSlotService(store domain.SlotRepository, schedule Schedule, loc *time.Location) *SlotService {
	if loc == nil {
		loc = time.UTC
	}
	return &SlotService{store: store, schedule: schedule, location: loc}
}

// CreateSlot adds a single slot. A zero capacity uses the schedule's.
func (s *SlotService) CreateSlot(ctx context.Context, start time.Time, capacity int) (domain.Slot, error) {
	if start.IsZero() {
		return domain.Slot{}, &domain.ValidationError{Field: "start_time", Reason: "is required"}
	}
	if capacity < 0 {
		return domain.Slot{}, &domain.ValidationError{Field: "max_capacity", Reason: "must be positive"}
	}
	if capacity == 0 {
		capacity = s.schedule.Capacity
	}

	slot := domain.NewSlot(newID(), start, s.schedule.Duration, capacity)
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return domain.Slot{}, fmt.Errorf("creating slot: %w", err)
	}
	return slot, nil
}

// GenerateDay creates every slot of the schedule on the given local day.
// Slots that already exist at the same start time are skipped.
func (s *SlotService) GenerateDay(ctx context.Context, date time.Time) ([]domain.Slot, error) {
	if err := s.schedule.Validate(); err != nil {
		return nil, err
	}

	dayStart, dayEnd := domain.DayBounds(date, s.location)

	existing, err := s.store.ListSlots(ctx, domain.SlotFilter{From: dayStart, To: dayEnd})
	if err != nil {
		return nil, fmt.Errorf("listing existing slots: %w", err)
	}
	taken := make(map[int64]bool, len(existing))
	for _, slot := range existing {
		taken[slot.StartTime.Unix()] = true
	}

	var created []domain.Slot
	for offset := s.schedule.Opening; offset+s.schedule.Duration <= s.schedule.Closing; offset += s.schedule.Interval {
		start := dayStart.Add(offset)
		if taken[start.Unix()] {
			continue
		}

		slot := domain.NewSlot(newID(), start, s.schedule.Duration, s.schedule.Capacity)
		if err := s.store.CreateSlot(ctx, slot); err != nil {
			return created, fmt.Errorf("creating slot at %s: %w", start.Format(time.RFC3339), err)
		}
		created = append(created, slot)
	}

	slog.InfoContext(ctx, "slots generated",
		"date", dayStart.Format(time.DateOnly), "created", len(created), "skipped", len(existing))
	return created, nil
}

// SetMaintenance takes a slot out of (or back into) service. Existing
// bookings are kept; a slot in maintenance just stops taking new ones.
func (s *SlotService) SetMaintenance(ctx context.Context, id string, maintenance bool) (domain.Slot, error) {
	status := domain.SlotAvailable
	if maintenance {
		status = domain.SlotMaintenance
	}

	if err := s.store.SetSlotStatus(ctx, id, status); err != nil {
		return domain.Slot{}, err
	}
	return s.store.GetSlot(ctx, id)
}

// GetSlot returns a slot by id.
func (s *SlotService) GetSlot(ctx context.Context, id string) (domain.Slot, error) {
	return s.store.GetSlot(ctx, id)
}
