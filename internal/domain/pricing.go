package domain

import (
	"fmt"
	"math"
)

// PricingPolicy prices a session by head count.
type PricingPolicy struct {
	PricePerPersonCents int64
	DiscountRate        float64
}

// DefaultPricing is R$110.00 per driver with a 10% discount.
var DefaultPricing = PricingPolicy{PricePerPersonCents: 11000, DiscountRate: 0.10}

// Quote is the price breakdown for a party.
type Quote struct {
	PartySize     int
	SubtotalCents int64
	DiscountCents int64
	TotalCents    int64
}

// Quote prices a party, rounding the discount to the nearest cent.
func (p PricingPolicy) Quote(partySize int) Quote {
	subtotal := p.PricePerPersonCents * int64(partySize)
	discount := int64(math.Round(float64(subtotal) * p.DiscountRate))
	return Quote{
		PartySize:     partySize,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TotalCents:    subtotal - discount,
	}
}

// ParticipantLimits bounds party sizes per session type.
type ParticipantLimits struct {
	OpenMin   int
	OpenMax   int
	ClosedMin int
	ClosedMax int
}

// DefaultLimits: 1 to 15 drivers in an open session, a full slot of 15 in a
// private one. The business advertises private groups of up to 50, but one
// slot never seats more than its capacity.
var DefaultLimits = ParticipantLimits{
	OpenMin:   1,
	OpenMax:   DefaultSlotCapacity,
	ClosedMin: DefaultSlotCapacity,
	ClosedMax: DefaultSlotCapacity,
}

// CapTo lowers every bound above capacity to capacity, so a quote is never
// offered for a party no slot can seat.
func (l ParticipantLimits) CapTo(capacity int) ParticipantLimits {
	l.OpenMin = min(l.OpenMin, capacity)
	l.OpenMax = min(l.OpenMax, capacity)
	l.ClosedMin = min(l.ClosedMin, capacity)
	l.ClosedMax = min(l.ClosedMax, capacity)
	return l
}

// Check validates a party size for the session type.
func (l ParticipantLimits) Check(sessionType SessionType, partySize int) error {
	lo, hi := l.OpenMin, l.OpenMax
	if sessionType == SessionClosed {
		lo, hi = l.ClosedMin, l.ClosedMax
	}
	if partySize < lo || partySize > hi {
		return &ValidationError{
			Field:  "party_size",
			Reason: fmt.Sprintf("%s sessions take %d to %d drivers", sessionType, lo, hi),
		}
	}
	return nil
}

// CentsToAmount converts cents to a currency amount.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// AmountToCents converts a currency amount to cents, rounding half away from zero.
func AmountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
