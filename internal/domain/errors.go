package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// Business rule rejections. Their messages are shown to customers.
var (
	ErrSlotUnavailable      = errors.New("this time slot is unavailable or under maintenance")
	ErrInsufficientCapacity = errors.New("not enough spots left in this time slot")
	ErrClosedRequiresEmpty  = errors.New("a private session requires an empty time slot")
	ErrSlotClosed           = errors.New("this time slot is reserved for a private session")
	ErrIncompatibleSlot     = errors.New("this time slot cannot take your session")
	ErrSameSlot             = errors.New("the booking is already in this time slot")
	ErrRescheduleLimit      = errors.New("limit of 1 reschedule reached")
	ErrBookingCancelled     = errors.New("the booking is cancelled")
	ErrBookingMismatch      = errors.New("booking details do not match")
)

// ErrClaimConflict is returned by the store when a conditional slot claim
// matched no row: the slot changed between validation and write.
var ErrClaimConflict = errors.New("this time slot was just taken, please choose another")

// ErrorCode is the machine-readable outcome of a failed create.
type ErrorCode string

const (
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeCustomerError    ErrorCode = "CUSTOMER_ERROR"
	CodeBookingError     ErrorCode = "BOOKING_ERROR"
	CodeSlotError        ErrorCode = "SLOT_ERROR"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// MessageUnexpected is shown for every infrastructure failure.
const MessageUnexpected = "unexpected error, please try again"

// OperationError is the failure result of an engine operation. Message is
// safe to show to customers; Err keeps the cause for logs and errors.Is.
type OperationError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

var rejections = []error{
	ErrSlotNotFound, ErrBookingNotFound, ErrCustomerNotFound,
	ErrSlotUnavailable, ErrInsufficientCapacity, ErrClosedRequiresEmpty,
	ErrSlotClosed, ErrIncompatibleSlot, ErrSameSlot, ErrRescheduleLimit,
	ErrBookingCancelled, ErrBookingMismatch, ErrClaimConflict,
}

// RejectionMessage returns the customer-facing message for a rejection.
// ok is false for infrastructure failures, whose detail must not leak.
func RejectionMessage(err error) (string, bool) {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error(), true
	}
	var tErr *TransitionError
	if errors.As(err, &tErr) {
		return tErr.Error(), true
	}
	var wErr *WizardTransitionError
	if errors.As(err, &wErr) {
		return wErr.Error(), true
	}
	return "", false
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// WizardTransitionError is returned when the booking wizard receives an
// event it cannot handle in its current step.
type WizardTransitionError struct {
	Event   WizardEvent
	Current WizardState
}

func (e *WizardTransitionError) Error() string {
	return fmt.Sprintf("wizard event %q is not valid from step %q", e.Event, e.Current)
}
