package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// Compile-time checks: Validator implements both state machine ports.
var (
	_ domain.TransitionValidator = (*Validator)(nil)
	_ domain.WizardValidator     = (*Validator)(nil)
)

// edge is a transition with the domain types stripped off.
type edge struct {
	event, src, dst string
}

// bookingEvents and wizardEvents are the looplab/fsm form of the domain
// transition tables, built once at init.
var (
	bookingEvents = buildEvents(bookingEdges())
	wizardEvents  = buildEvents(wizardEdges())
)

func bookingEdges() []edge {
	out := make([]edge, 0, len(domain.Transitions))
	for _, t := range domain.Transitions {
		out = append(out, edge{string(t.Event), string(t.Src), string(t.Dst)})
	}
	return out
}

func wizardEdges() []edge {
	out := make([]edge, 0, len(domain.WizardTransitions))
	for _, t := range domain.WizardTransitions {
		out = append(out, edge{string(t.Event), string(t.Src), string(t.Dst)})
	}
	return out
}

// buildEvents consolidates edges with the same event+destination into a
// single EventDesc with multiple source states (e.g., cancel from PENDING
// and CONFIRMED both go to CANCELLED).
func buildEvents(edges []edge) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, e := range edges {
		k := key{event: e.event, dst: e.dst}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e.src)
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements the booking and wizard state machines using
// looplab/fsm. A short-lived FSM is created per call because looplab/fsm
// tracks the current state internally.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks if the given event is valid from the current booking status
// and returns the destination status.
func (v *Validator) Apply(ctx context.Context, current domain.Status, event domain.Event) (domain.Status, error) {
	dst, ok, err := fire(ctx, bookingEvents, string(current), string(event))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &domain.TransitionError{Event: event, Current: current}
	}
	return domain.Status(dst), nil
}

// ApplyWizard checks if the given event is valid from the current wizard
// state and returns the next state.
func (v *Validator) ApplyWizard(ctx context.Context, current domain.WizardState, event domain.WizardEvent) (domain.WizardState, error) {
	dst, ok, err := fire(ctx, wizardEvents, string(current), string(event))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &domain.WizardTransitionError{Event: event, Current: current}
	}
	return domain.WizardState(dst), nil
}

// fire runs event on a fresh machine. ok is false when the event is not
// allowed from current.
func fire(ctx context.Context, events []loopfsm.EventDesc, current, event string) (string, bool, error) {
	machine := loopfsm.NewFSM(current, events, nil)

	if err := machine.Event(ctx, event); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) {
			return "", false, nil
		}
		// Self-loops (date_selected while selecting a slot) report
		// NoTransitionError but are valid.
		if errors.As(err, &noTransition) {
			return current, true, nil
		}
		return "", false, err
	}

	return machine.Current(), true, nil
}
