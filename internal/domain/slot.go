package domain

import (
	"fmt"
	"time"
)

// SessionType is the character of a slot: shared (OPEN) or private (CLOSED).
type SessionType string

const (
	SessionOpen   SessionType = "OPEN"
	SessionClosed SessionType = "CLOSED"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	return t == SessionOpen || t == SessionClosed
}

// SlotStatus tells whether a slot can be booked at all.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotMaintenance SlotStatus = "MAINTENANCE"
)

// DefaultSlotCapacity is the number of karts on track per session.
const DefaultSlotCapacity = 15

// Slot is a bookable time window with a finite number of places.
type Slot struct {
	ID          string
	StartTime   time.Time
	EndTime     time.Time
	MaxCapacity int
	BookedCount int
	Type        SessionType
	Status      SlotStatus
}

// NewSlot creates an empty, open, available slot.
func NewSlot(id string, start time.Time, duration time.Duration, capacity int) Slot {
	if capacity <= 0 {
		capacity = DefaultSlotCapacity
	}
	start = start.UTC()
	return Slot{
		ID:          id,
		StartTime:   start,
		EndTime:     start.Add(duration),
		MaxCapacity: capacity,
		Type:        SessionOpen,
		Status:      SlotAvailable,
	}
}

// AvailableSpots is the remaining numeric capacity.
func (s Slot) AvailableSpots() int {
	return s.MaxCapacity - s.BookedCount
}

// IsEmpty reports whether nobody holds a place in the slot.
func (s Slot) IsEmpty() bool {
	return s.BookedCount == 0
}

// Accepts applies the availability rule for a party of the given type and size.
// A closed session needs an empty slot. An open session fits in an empty slot,
// or in an open slot with enough spots left.
func (s Slot) Accepts(sessionType SessionType, partySize int) bool {
	if s.IsEmpty() {
		return true
	}
	if sessionType == SessionClosed {
		return false
	}
	return s.Type == SessionOpen && s.AvailableSpots() >= partySize
}

// CheckClaim validates a new claim on the slot. The checks run in a fixed
// order and each failure maps to its own error.
func (s Slot) CheckClaim(sessionType SessionType, partySize int) error {
	if s.Status != SlotAvailable {
		return ErrSlotUnavailable
	}
	if s.AvailableSpots() < partySize {
		return ErrInsufficientCapacity
	}
	if !s.IsEmpty() {
		if sessionType == SessionClosed {
			return ErrClosedRequiresEmpty
		}
		if s.Type == SessionClosed {
			return ErrSlotClosed
		}
	}
	return nil
}

// Claim adds a party to the slot. The first party in an empty slot sets its type.
func (s *Slot) Claim(sessionType SessionType, partySize int) {
	if s.IsEmpty() {
		s.Type = sessionType
	}
	s.BookedCount += partySize
}

// Release removes a party from the slot. The count never drops below zero and
// an emptied slot always goes back to OPEN.
func (s *Slot) Release(partySize int) {
	s.BookedCount = max(0, s.BookedCount-partySize)
	if s.BookedCount == 0 {
		s.Type = SessionOpen
	}
}

// Valid checks the occupancy invariants of the slot.
func (s Slot) Valid() error {
	if s.BookedCount < 0 || s.BookedCount > s.MaxCapacity {
		return fmt.Errorf("slot %s: occupancy %d outside [0, %d]", s.ID, s.BookedCount, s.MaxCapacity)
	}
	if s.BookedCount == 0 && s.Type != SessionOpen {
		return fmt.Errorf("slot %s: empty slot has type %s", s.ID, s.Type)
	}
	return nil
}
