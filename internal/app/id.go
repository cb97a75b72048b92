package app

import "github.com/google/uuid"

// newID produces a random identifier for bookings and slots.
// Isolated here so the ID strategy can evolve independently.
func newID() string {
	return uuid.NewString()
}

// newToken produces an opaque management token. It is a separate random
// value so knowing a booking id never grants self-service access.
func newToken() string {
	return uuid.NewString()
}
