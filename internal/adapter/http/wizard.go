package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/neomorfeo/pitlane/internal/app"
	"github.com/neomorfeo/pitlane/internal/domain"
)

// wizardTTL is how long an idle wizard session is kept.
const wizardTTL = 30 * time.Minute

type wizardSession struct {
	mu       sync.Mutex
	wizard   *app.Wizard
	lastSeen time.Time
}

// WizardSessions holds the in-progress booking wizards, one per customer
// session. Sessions live in memory and are dropped after wizardTTL idle.
type WizardSessions struct {
	booker    app.Booker
	validator domain.WizardValidator
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*wizardSession
	lastSweep time.Time
}

// NewWizardSessions creates an empty session store.
func NewWizardSessions(booker app.Booker, validator domain.WizardValidator) *WizardSessions {
	return &WizardSessions{
		booker:    booker,
		validator: validator,
		now:       time.Now,
		sessions:  make(map[string]*wizardSession),
	}
}

func (ws *WizardSessions) start() (string, *wizardSession) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	now := ws.now()
	ws.sweep(now)

	id := uuid.NewString()
	sess := &wizardSession{wizard: app.NewWizard(ws.booker, ws.validator), lastSeen: now}
	ws.sessions[id] = sess
	return id, sess
}

func (ws *WizardSessions) get(id string) (*wizardSession, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	now := ws.now()
	ws.sweep(now)

	sess, ok := ws.sessions[id]
	if ok {
		sess.lastSeen = now
	}
	return sess, ok
}

// sweep drops idle sessions at most once a minute. Caller holds ws.mu.
func (ws *WizardSessions) sweep(now time.Time) {
	if now.Sub(ws.lastSweep) <= time.Minute {
		return
	}
	for id, sess := range ws.sessions {
		if now.Sub(sess.lastSeen) > wizardTTL {
			delete(ws.sessions, id)
		}
	}
	ws.lastSweep = now
}

// WizardBooking is the booking a confirmed wizard created.
type WizardBooking struct {
	BookingID       string `json:"booking_id"`
	ManagementToken string `json:"management_token"`
	CustomerID      string `json:"customer_id"`
}

// WizardResponse is the API representation of a wizard session.
type WizardResponse struct {
	ID             string         `json:"id" doc:"Wizard session ID"`
	State          string         `json:"state" doc:"Current step"`
	Slots          []SlotResponse `json:"slots" doc:"Listing from the last date selection"`
	SelectedSlotID string         `json:"selected_slot_id,omitempty"`
	Booking        *WizardBooking `json:"booking,omitempty" doc:"Created booking, once confirmed"`
}

func toWizardResponse(id string, w *app.Wizard) WizardResponse {
	resp := WizardResponse{
		ID:             id,
		State:          string(w.State()),
		Slots:          make([]SlotResponse, len(w.Slots())),
		SelectedSlotID: w.SelectedSlot(),
	}
	for i, s := range w.Slots() {
		resp.Slots[i] = toSlotResponse(s.Slot)
	}
	if w.State() == domain.WizardConfirmed {
		res := w.Result()
		resp.Booking = &WizardBooking{
			BookingID:       res.BookingID,
			ManagementToken: res.ManagementToken,
			CustomerID:      res.CustomerID,
		}
	}
	return resp
}

type WizardOutput struct {
	Body WizardResponse
}

type WizardInput struct {
	ID string `path:"id" doc:"Wizard session ID"`
}

type WizardDateInput struct {
	ID   string `path:"id" doc:"Wizard session ID"`
	Body struct {
		Date        string `json:"date" format:"date" doc:"Business day (YYYY-MM-DD)"`
		SessionType string `json:"session_type,omitempty" required:"false" default:"OPEN" enum:"OPEN,CLOSED" doc:"Session type"`
		PartySize   int    `json:"party_size" minimum:"1" doc:"Drivers in the party"`
	}
}

type WizardSlotInput struct {
	ID   string `path:"id" doc:"Wizard session ID"`
	Body struct {
		SlotID string `json:"slot_id" minLength:"1" doc:"Slot from the listing"`
	}
}

type WizardCustomerInput struct {
	ID   string `path:"id" doc:"Wizard session ID"`
	Body struct {
		Name  string `json:"name" minLength:"1" maxLength:"255" doc:"Customer name"`
		Phone string `json:"phone" minLength:"1" maxLength:"32" doc:"Customer phone"`
	}
}

var errWizardNotFound = &ErrorResponse{
	status:  http.StatusNotFound,
	Code:    codeNotFound,
	Message: "wizard session not found or expired",
}

// step runs fn on the session's wizard under its lock. A failed step still
// returns the error; the session may have moved, e.g. back to the listing
// after losing its slot.
func (ws *WizardSessions) step(id string, fn func(w *app.Wizard) error) (*WizardOutput, error) {
	sess, ok := ws.get(id)
	if !ok {
		return nil, errWizardNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := fn(sess.wizard); err != nil {
		return nil, toHumaError(err)
	}
	return &WizardOutput{Body: toWizardResponse(id, sess.wizard)}, nil
}

// RegisterWizard adds the guided booking routes to the Huma API.
func RegisterWizard(api huma.API, ws *WizardSessions) {
	huma.Register(api, huma.Operation{
		OperationID: "start-wizard",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard",
		Summary:     "Start a guided booking",
		Tags:        []string{"Wizard"},
	}, func(_ context.Context, _ *struct{}) (*WizardOutput, error) {
		id, sess := ws.start()
		return &WizardOutput{Body: toWizardResponse(id, sess.wizard)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wizard",
		Method:      http.MethodGet,
		Path:        "/api/v1/wizard/{id}",
		Summary:     "Get the current step of a guided booking",
		Tags:        []string{"Wizard"},
	}, func(_ context.Context, input *WizardInput) (*WizardOutput, error) {
		return ws.step(input.ID, func(*app.Wizard) error { return nil })
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-select-date",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard/{id}/date",
		Summary:     "Pick a day and party and list its slots",
		Tags:        []string{"Wizard"},
	}, func(ctx context.Context, input *WizardDateInput) (*WizardOutput, error) {
		date, err := time.Parse(time.DateOnly, input.Body.Date)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("date must be YYYY-MM-DD")
		}
		q := domain.AvailabilityQuery{
			Date:        date,
			SessionType: domain.SessionType(input.Body.SessionType),
			PartySize:   input.Body.PartySize,
		}
		return ws.step(input.ID, func(w *app.Wizard) error {
			_, err := w.SelectDate(ctx, q)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-select-slot",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard/{id}/slot",
		Summary:     "Pick a slot from the listing",
		Tags:        []string{"Wizard"},
	}, func(ctx context.Context, input *WizardSlotInput) (*WizardOutput, error) {
		return ws.step(input.ID, func(w *app.Wizard) error {
			return w.SelectSlot(ctx, input.Body.SlotID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-submit-customer",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard/{id}/customer",
		Summary:     "Enter contact details and book the selected slot",
		Tags:        []string{"Wizard"},
	}, func(ctx context.Context, input *WizardCustomerInput) (*WizardOutput, error) {
		return ws.step(input.ID, func(w *app.Wizard) error {
			_, err := w.SubmitCustomer(ctx, input.Body.Name, input.Body.Phone)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-back",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard/{id}/back",
		Summary:     "Return to the previous step",
		Tags:        []string{"Wizard"},
	}, func(ctx context.Context, input *WizardInput) (*WizardOutput, error) {
		return ws.step(input.ID, func(w *app.Wizard) error { return w.Back(ctx) })
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-restart",
		Method:      http.MethodPost,
		Path:        "/api/v1/wizard/{id}/restart",
		Summary:     "Start the guided booking over",
		Tags:        []string{"Wizard"},
	}, func(ctx context.Context, input *WizardInput) (*WizardOutput, error) {
		return ws.step(input.ID, func(w *app.Wizard) error { return w.Restart(ctx) })
	})
}
