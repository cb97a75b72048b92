package domain

import (
	"sort"
	"time"
)

// AvailabilityQuery asks for the slots of one business day that can take a party.
type AvailabilityQuery struct {
	Date          time.Time
	SessionType   SessionType
	PartySize     int
	ExcludeSlotID string
}

// Validate checks the query inputs.
func (q AvailabilityQuery) Validate() error {
	if !q.SessionType.Valid() {
		return &ValidationError{Field: "session_type", Reason: "must be OPEN or CLOSED"}
	}
	if q.PartySize < 1 {
		return &ValidationError{Field: "party_size", Reason: "must be at least 1"}
	}
	return nil
}

// AvailableSlot is a slot that passed the availability rule.
type AvailableSlot struct {
	Slot
	Spots int
}

// FilterAvailable keeps the slots that accept the query's party, ordered by start time.
// Slots that are not AVAILABLE or match ExcludeSlotID are dropped.
func FilterAvailable(slots []Slot, q AvailabilityQuery) []AvailableSlot {
	out := make([]AvailableSlot, 0, len(slots))
	for _, s := range slots {
		if s.Status != SlotAvailable || s.ID == q.ExcludeSlotID {
			continue
		}
		if !s.Accepts(q.SessionType, q.PartySize) {
			continue
		}
		out = append(out, AvailableSlot{Slot: s, Spots: s.AvailableSpots()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// DayBounds returns the [start, end) instants of date's calendar day as
// observed in loc. Only the year, month and day of date are used.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
