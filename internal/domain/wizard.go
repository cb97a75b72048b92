package domain

// WizardState is a step of the customer booking flow.
type WizardState string

const (
	WizardSelectingDate      WizardState = "selecting_date"
	WizardSelectingSlot      WizardState = "selecting_slot"
	WizardCollectingCustomer WizardState = "collecting_customer"
	WizardConfirmed          WizardState = "confirmed"
)

// WizardEvent is a user action or operation result that moves the wizard.
type WizardEvent string

const (
	WizardDateSelected   WizardEvent = "date_selected"
	WizardSlotSelected   WizardEvent = "slot_selected"
	WizardBookingCreated WizardEvent = "booking_created"
	WizardSlotLost       WizardEvent = "slot_lost"
	WizardBack           WizardEvent = "back"
	WizardRestart        WizardEvent = "restart"
)

// WizardTransition is one edge of the booking flow.
type WizardTransition struct {
	Event WizardEvent
	Src   WizardState
	Dst   WizardState
}

// WizardTransitions defines the booking flow. Picking another date is allowed
// while choosing a slot; a lost slot sends the customer back to the listing.
var WizardTransitions = []WizardTransition{
	{Event: WizardDateSelected, Src: WizardSelectingDate, Dst: WizardSelectingSlot},
	{Event: WizardDateSelected, Src: WizardSelectingSlot, Dst: WizardSelectingSlot},
	{Event: WizardSlotSelected, Src: WizardSelectingSlot, Dst: WizardCollectingCustomer},
	{Event: WizardBookingCreated, Src: WizardCollectingCustomer, Dst: WizardConfirmed},
	{Event: WizardSlotLost, Src: WizardCollectingCustomer, Dst: WizardSelectingSlot},
	{Event: WizardBack, Src: WizardSelectingSlot, Dst: WizardSelectingDate},
	{Event: WizardBack, Src: WizardCollectingCustomer, Dst: WizardSelectingSlot},
	{Event: WizardRestart, Src: WizardSelectingSlot, Dst: WizardSelectingDate},
	{Event: WizardRestart, Src: WizardCollectingCustomer, Dst: WizardSelectingDate},
	{Event: WizardRestart, Src: WizardConfirmed, Dst: WizardSelectingDate},
}
