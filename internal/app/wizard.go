package app

import (
	"context"
	"errors"
	"slices"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// Booker is the part of BookingService the wizard drives.
type Booker interface {
	ListAvailableSlots(ctx context.Context, q domain.AvailabilityQuery) ([]domain.AvailableSlot, error)
	Create(ctx context.Context, req CreateBookingRequest) (CreateBookingResult, error)
}

// Wizard walks one customer through date, slot and contact details. Every
// step is checked against the wizard transition table before its state
// changes. A Wizard belongs to a single session and is not safe for
// concurrent use.
type Wizard struct {
	booker    Booker
	validator domain.WizardValidator

	state   domain.WizardState
	query   domain.AvailabilityQuery
	listing []domain.AvailableSlot
	slotID  string
	result  CreateBookingResult
}

// NewWizard starts a wizard at date selection.
func NewWizard(booker Booker, validator domain.WizardValidator) *Wizard {
	return &Wizard{
		booker:    booker,
		validator: validator,
		state:     domain.WizardSelectingDate,
	}
}

// State returns the current step.
func (w *Wizard) State() domain.WizardState { return w.state }

// Slots returns the listing shown by the last date selection.
func (w *Wizard) Slots() []domain.AvailableSlot { return w.listing }

// SelectedSlot returns the slot picked in the current attempt.
func (w *Wizard) SelectedSlot() string { return w.slotID }

// Result returns the created booking once the wizard is confirmed.
func (w *Wizard) Result() CreateBookingResult { return w.result }

// SelectDate lists the slots for the query and moves to slot selection.
func (w *Wizard) SelectDate(ctx context.Context, q domain.AvailabilityQuery) ([]domain.AvailableSlot, error) {
	next, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardDateSelected)
	if err != nil {
		return nil, err
	}

	slots, err := w.booker.ListAvailableSlots(ctx, q)
	if err != nil {
		return nil, err
	}

	w.query = q
	w.listing = slots
	w.slotID = ""
	w.state = next
	return slots, nil
}

// SelectSlot picks a slot from the last listing.
func (w *Wizard) SelectSlot(ctx context.Context, slotID string) error {
	next, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardSlotSelected)
	if err != nil {
		return err
	}

	listed := slices.ContainsFunc(w.listing, func(s domain.AvailableSlot) bool { return s.ID == slotID })
	if !listed {
		return domain.ErrSlotUnavailable
	}

	w.slotID = slotID
	w.state = next
	return nil
}

// SubmitCustomer books the selected slot. When the slot was taken or closed
// in the meantime the wizard goes back to slot selection with a fresh
// listing and the create error is returned.
func (w *Wizard) SubmitCustomer(ctx context.Context, name, phone string) (CreateBookingResult, error) {
	confirmed, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardBookingCreated)
	if err != nil {
		return CreateBookingResult{}, err
	}

	result, err := w.booker.Create(ctx, CreateBookingRequest{
		Name:        name,
		Phone:       phone,
		SlotID:      w.slotID,
		PartySize:   w.query.PartySize,
		SessionType: w.query.SessionType,
	})
	if err != nil {
		if slotLost(err) {
			w.loseSlot(ctx)
		}
		return CreateBookingResult{}, err
	}

	w.result = result
	w.state = confirmed
	return result, nil
}

func slotLost(err error) bool {
	var opErr *domain.OperationError
	if !errors.As(err, &opErr) {
		return false
	}
	return opErr.Code == domain.CodeCapacityExceeded || opErr.Code == domain.CodeSlotError
}

func (w *Wizard) loseSlot(ctx context.Context) {
	next, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardSlotLost)
	if err != nil {
		return
	}
	w.state = next
	w.slotID = ""

	// A failed refresh leaves the old listing; SelectSlot still guards it.
	if slots, err := w.booker.ListAvailableSlots(ctx, w.query); err == nil {
		w.listing = slots
	}
}

// Back returns to the previous step.
func (w *Wizard) Back(ctx context.Context) error {
	next, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardBack)
	if err != nil {
		return err
	}
	if next == domain.WizardSelectingSlot {
		w.slotID = ""
	}
	w.state = next
	return nil
}

// Restart clears the wizard back to date selection.
func (w *Wizard) Restart(ctx context.Context) error {
	next, err := w.validator.ApplyWizard(ctx, w.state, domain.WizardRestart)
	if err != nil {
		return err
	}
	*w = Wizard{booker: w.booker, validator: w.validator, state: next}
	return nil
}
