package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/pitlane/internal/app"
	"github.com/neomorfeo/pitlane/internal/domain"
)

const timeLayout = time.RFC3339

// SlotResponse is the API representation of a slot.
type SlotResponse struct {
	ID             string `json:"id" doc:"Unique identifier"`
	StartTime      string `json:"start_time" doc:"Session start (RFC 3339)"`
	EndTime        string `json:"end_time" doc:"Session end (RFC 3339)"`
	MaxCapacity    int    `json:"max_capacity" doc:"Seats in the session"`
	BookedCount    int    `json:"booked_count" doc:"Seats taken"`
	AvailableSpots int    `json:"available_spots" doc:"Seats left"`
	Type           string `json:"type" doc:"OPEN or CLOSED"`
	Status         string `json:"status" doc:"AVAILABLE or MAINTENANCE"`
}

func toSlotResponse(s domain.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		StartTime:      s.StartTime.Format(timeLayout),
		EndTime:        s.EndTime.Format(timeLayout),
		MaxCapacity:    s.MaxCapacity,
		BookedCount:    s.BookedCount,
		AvailableSpots: s.AvailableSpots(),
		Type:           string(s.Type),
		Status:         string(s.Status),
	}
}

// CustomerResponse is the API representation of a customer.
type CustomerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BookingResponse is the API representation of a booking. The management
// token is only returned once, on creation.
type BookingResponse struct {
	ID              string            `json:"id" doc:"Unique identifier"`
	Status          string            `json:"status" doc:"Lifecycle state"`
	PeopleCount     int               `json:"people_count" doc:"Drivers in the party"`
	TotalCents      int64             `json:"total_cents" doc:"Amount charged, in cents"`
	TotalAmount     float64           `json:"total_amount" doc:"Amount charged"`
	SessionType     string            `json:"session_type" doc:"OPEN or CLOSED"`
	SlotID          string            `json:"slot_id"`
	CustomerID      string            `json:"customer_id"`
	RescheduleCount int               `json:"reschedule_count"`
	CanReschedule   bool              `json:"can_reschedule"`
	Slot            *SlotResponse     `json:"slot,omitempty"`
	Customer        *CustomerResponse `json:"customer,omitempty"`
	CreatedAt       string            `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt       string            `json:"updated_at" doc:"Last update timestamp (RFC 3339)"`
}

func toBookingResponse(b domain.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		Status:          string(b.Status),
		PeopleCount:     b.PeopleCount,
		TotalCents:      b.TotalCents,
		TotalAmount:     domain.CentsToAmount(b.TotalCents),
		SessionType:     string(b.SessionType),
		SlotID:          b.SlotID,
		CustomerID:      b.CustomerID,
		RescheduleCount: b.RescheduleCount,
		CanReschedule:   b.CanReschedule() == nil,
		CreatedAt:       b.CreatedAt.Format(timeLayout),
		UpdatedAt:       b.UpdatedAt.Format(timeLayout),
	}
}

func toBookingViewResponse(v app.BookingView) BookingResponse {
	resp := toBookingResponse(v.Booking)
	slot := toSlotResponse(v.Slot)
	resp.Slot = &slot
	resp.Customer = &CustomerResponse{ID: v.Customer.ID, Name: v.Customer.Name, Phone: v.Customer.Phone}
	return resp
}

// --- List Available Slots ---

type ListAvailableInput struct {
	Date          string `query:"date" required:"true" format:"date" doc:"Business day (YYYY-MM-DD)"`
	SessionType   string `query:"session_type" default:"OPEN" enum:"OPEN,CLOSED" doc:"Session type"`
	PartySize     int    `query:"party_size" default:"1" minimum:"1" doc:"Drivers in the party"`
	ExcludeSlotID string `query:"exclude_slot_id" required:"false" doc:"Slot to leave out, e.g. the one being rescheduled from"`
}

type ListAvailableOutput struct {
	Body []SlotResponse
}

// --- Create Booking ---

type CreateBookingInput struct {
	Body struct {
		Name        string  `json:"name" minLength:"1" maxLength:"255" doc:"Customer name"`
		Phone       string  `json:"phone" minLength:"1" maxLength:"32" doc:"Customer phone; digits are kept"`
		SlotID      string  `json:"slot_id" minLength:"1" doc:"Slot to book"`
		PartySize   int     `json:"party_size" minimum:"1" doc:"Drivers in the party"`
		SessionType string  `json:"session_type" enum:"OPEN,CLOSED" doc:"Session type"`
		TotalCents  int64   `json:"total_cents,omitempty" required:"false" minimum:"0" doc:"Amount charged; priced by the server when omitted"`
		TotalAmount float64 `json:"total_amount,omitempty" required:"false" minimum:"0" doc:"Amount charged in currency units; used when total_cents is omitted"`
	}
}

type CreateBookingOutput struct {
	Body struct {
		BookingID       string `json:"booking_id"`
		ManagementToken string `json:"management_token" doc:"Secret for self-service cancel and reschedule"`
		CustomerID      string `json:"customer_id"`
	}
}

// --- Get Booking ---

type GetBookingInput struct {
	ID string `path:"id" doc:"Booking ID"`
}

type ManageInput struct {
	Token string `path:"token" doc:"Management token"`
}

type BookingOutput struct {
	Body BookingResponse
}

// --- Cancel ---

type CancelInput struct {
	ID        string `path:"id" doc:"Booking ID"`
	SlotID    string `query:"slot_id" required:"false" doc:"Expected slot; rejected when it does not match"`
	PartySize int    `query:"party_size" required:"false" doc:"Expected party size; rejected when it does not match"`
}

type CancelOutput struct {
	Body struct {
		Booking          BookingResponse `json:"booking"`
		AlreadyCancelled bool            `json:"already_cancelled"`
		Degraded         bool            `json:"degraded" doc:"Cancelled, but the slot count is being reconciled"`
	}
}

// --- Reschedule ---

type RescheduleInput struct {
	ID   string `path:"id" doc:"Booking ID"`
	Body struct {
		NewSlotID     string `json:"new_slot_id" minLength:"1" doc:"Target slot"`
		CurrentSlotID string `json:"current_slot_id,omitempty" required:"false" doc:"Expected current slot"`
		SessionType   string `json:"session_type,omitempty" required:"false" enum:"OPEN,CLOSED" doc:"Expected session type"`
		PartySize     int    `json:"party_size,omitempty" required:"false" doc:"Expected party size"`
	}
}

type ManageRescheduleInput struct {
	Token string `path:"token" doc:"Management token"`
	Body  struct {
		NewSlotID string `json:"new_slot_id" minLength:"1" doc:"Target slot"`
	}
}

type RescheduleOutput struct {
	Body struct {
		Booking        BookingResponse `json:"booking"`
		PreviousSlotID string          `json:"previous_slot_id"`
	}
}

// --- Quote ---

type QuoteInput struct {
	PartySize   int    `query:"party_size" required:"true" minimum:"1" doc:"Drivers in the party"`
	SessionType string `query:"session_type" default:"OPEN" enum:"OPEN,CLOSED" doc:"Session type"`
}

type QuoteOutput struct {
	Body struct {
		PartySize     int     `json:"party_size"`
		SubtotalCents int64   `json:"subtotal_cents"`
		DiscountCents int64   `json:"discount_cents"`
		TotalCents    int64   `json:"total_cents"`
		TotalAmount   float64 `json:"total_amount"`
	}
}

// --- Slots (admin) ---

type CreateSlotInput struct {
	Body struct {
		StartTime   time.Time `json:"start_time" doc:"Session start (RFC 3339)"`
		MaxCapacity int       `json:"max_capacity,omitempty" required:"false" minimum:"0" doc:"Seats; the schedule default when omitted"`
	}
}

type GetSlotInput struct {
	ID string `path:"id" doc:"Slot ID"`
}

type SlotOutput struct {
	Body SlotResponse
}

type GenerateDayInput struct {
	Body struct {
		Date string `json:"date" format:"date" doc:"Business day (YYYY-MM-DD)"`
	}
}

type GenerateDayOutput struct {
	Body struct {
		Created int            `json:"created"`
		Slots   []SlotResponse `json:"slots"`
	}
}

type SetSlotStatusInput struct {
	ID   string `path:"id" doc:"Slot ID"`
	Body struct {
		Status string `json:"status" enum:"AVAILABLE,MAINTENANCE" doc:"New status"`
	}
}

// Register adds the booking and slot API routes to the Huma API.
func Register(api huma.API, bookings *app.BookingService, slots *app.SlotService) {
	registerBookings(api, bookings)
	registerManage(api, bookings)
	registerSlots(api, slots)
}

func registerBookings(api huma.API, svc *app.BookingService) {
	huma.Register(api, huma.Operation{
		OperationID: "list-available-slots",
		Method:      http.MethodGet,
		Path:        "/api/v1/slots/available",
		Summary:     "List the slots of a day that can take a party",
		Tags:        []string{"Bookings"},
	}, func(ctx context.Context, input *ListAvailableInput) (*ListAvailableOutput, error) {
		date, err := time.Parse(time.DateOnly, input.Date)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("date must be YYYY-MM-DD")
		}

		available, err := svc.ListAvailableSlots(ctx, domain.AvailabilityQuery{
			Date:          date,
			SessionType:   domain.SessionType(input.SessionType),
			PartySize:     input.PartySize,
			ExcludeSlotID: input.ExcludeSlotID,
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]SlotResponse, len(available))
		for i, s := range available {
			resp[i] = toSlotResponse(s.Slot)
		}
		return &ListAvailableOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-booking",
		Method:      http.MethodPost,
		Path:        "/api/v1/bookings",
		Summary:     "Book a slot",
		Tags:        []string{"Bookings"},
	}, func(ctx context.Context, input *CreateBookingInput) (*CreateBookingOutput, error) {
		total := input.Body.TotalCents
		if total == 0 && input.Body.TotalAmount > 0 {
			total = domain.AmountToCents(input.Body.TotalAmount)
		}

		res, err := svc.Create(ctx, app.CreateBookingRequest{
			Name:        input.Body.Name,
			Phone:       input.Body.Phone,
			SlotID:      input.Body.SlotID,
			PartySize:   input.Body.PartySize,
			TotalCents:  total,
			SessionType: domain.SessionType(input.Body.SessionType),
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &CreateBookingOutput{}
		out.Body.BookingID = res.BookingID
		out.Body.ManagementToken = res.ManagementToken
		out.Body.CustomerID = res.CustomerID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking",
		Method:      http.MethodGet,
		Path:        "/api/v1/bookings/{id}",
		Summary:     "Get a booking by ID",
		Tags:        []string{"Bookings"},
	}, func(ctx context.Context, input *GetBookingInput) (*BookingOutput, error) {
		view, err := svc.GetBooking(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &BookingOutput{Body: toBookingViewResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-booking",
		Method:      http.MethodPost,
		Path:        "/api/v1/bookings/{id}/cancel",
		Summary:     "Cancel a booking",
		Tags:        []string{"Bookings"},
	}, func(ctx context.Context, input *CancelInput) (*CancelOutput, error) {
		res, err := svc.Cancel(ctx, app.CancelBookingRequest{
			BookingID: input.ID,
			SlotID:    input.SlotID,
			PartySize: input.PartySize,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return toCancelOutput(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-booking",
		Method:      http.MethodPost,
		Path:        "/api/v1/bookings/{id}/reschedule",
		Summary:     "Move a booking to another slot",
		Tags:        []string{"Bookings"},
	}, func(ctx context.Context, input *RescheduleInput) (*RescheduleOutput, error) {
		res, err := svc.Reschedule(ctx, app.RescheduleRequest{
			BookingID:     input.ID,
			CurrentSlotID: input.Body.CurrentSlotID,
			NewSlotID:     input.Body.NewSlotID,
			SessionType:   domain.SessionType(input.Body.SessionType),
			PartySize:     input.Body.PartySize,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return toRescheduleOutput(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quote",
		Method:      http.MethodGet,
		Path:        "/api/v1/quote",
		Summary:     "Price a party",
		Tags:        []string{"Bookings"},
	}, func(_ context.Context, input *QuoteInput) (*QuoteOutput, error) {
		q, err := svc.Quote(domain.SessionType(input.SessionType), input.PartySize)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &QuoteOutput{}
		out.Body.PartySize = q.PartySize
		out.Body.SubtotalCents = q.SubtotalCents
		out.Body.DiscountCents = q.DiscountCents
		out.Body.TotalCents = q.TotalCents
		out.Body.TotalAmount = domain.CentsToAmount(q.TotalCents)
		return out, nil
	})
}

func registerManage(api huma.API, svc *app.BookingService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-managed-booking",
		Method:      http.MethodGet,
		Path:        "/api/v1/manage/{token}",
		Summary:     "Get the booking holding a management token",
		Tags:        []string{"Self-service"},
	}, func(ctx context.Context, input *ManageInput) (*BookingOutput, error) {
		view, err := svc.GetBookingByToken(ctx, input.Token)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &BookingOutput{Body: toBookingViewResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-managed-booking",
		Method:      http.MethodPost,
		Path:        "/api/v1/manage/{token}/cancel",
		Summary:     "Cancel the booking holding a management token",
		Tags:        []string{"Self-service"},
	}, func(ctx context.Context, input *ManageInput) (*CancelOutput, error) {
		res, err := svc.CancelByToken(ctx, input.Token)
		if err != nil {
			return nil, toHumaError(err)
		}
		return toCancelOutput(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-managed-booking",
		Method:      http.MethodPost,
		Path:        "/api/v1/manage/{token}/reschedule",
		Summary:     "Move the booking holding a management token",
		Tags:        []string{"Self-service"},
	}, func(ctx context.Context, input *ManageRescheduleInput) (*RescheduleOutput, error) {
		res, err := svc.RescheduleByToken(ctx, input.Token, input.Body.NewSlotID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return toRescheduleOutput(res), nil
	})
}

func registerSlots(api huma.API, svc *app.SlotService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-slot",
		Method:      http.MethodPost,
		Path:        "/api/v1/slots",
		Summary:     "Add a slot",
		Tags:        []string{"Slots"},
	}, func(ctx context.Context, input *CreateSlotInput) (*SlotOutput, error) {
		slot, err := svc.CreateSlot(ctx, input.Body.StartTime, input.Body.MaxCapacity)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SlotOutput{Body: toSlotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-slot",
		Method:      http.MethodGet,
		Path:        "/api/v1/slots/{id}",
		Summary:     "Get a slot by ID",
		Tags:        []string{"Slots"},
	}, func(ctx context.Context, input *GetSlotInput) (*SlotOutput, error) {
		slot, err := svc.GetSlot(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SlotOutput{Body: toSlotResponse(slot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-day",
		Method:      http.MethodPost,
		Path:        "/api/v1/slots/generate",
		Summary:     "Create every slot of a business day",
		Tags:        []string{"Slots"},
	}, func(ctx context.Context, input *GenerateDayInput) (*GenerateDayOutput, error) {
		date, err := time.Parse(time.DateOnly, input.Body.Date)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("date must be YYYY-MM-DD")
		}

		created, err := svc.GenerateDay(ctx, date)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &GenerateDayOutput{}
		out.Body.Created = len(created)
		out.Body.Slots = make([]SlotResponse, len(created))
		for i, s := range created {
			out.Body.Slots[i] = toSlotResponse(s)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-slot-status",
		Method:      http.MethodPut,
		Path:        "/api/v1/slots/{id}/status",
		Summary:     "Put a slot in or out of maintenance",
		Tags:        []string{"Slots"},
	}, func(ctx context.Context, input *SetSlotStatusInput) (*SlotOutput, error) {
		maintenance := domain.SlotStatus(input.Body.Status) == domain.SlotMaintenance
		slot, err := svc.SetMaintenance(ctx, input.ID, maintenance)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SlotOutput{Body: toSlotResponse(slot)}, nil
	})
}

func toCancelOutput(res app.CancelResult) *CancelOutput {
	out := &CancelOutput{}
	out.Body.Booking = toBookingResponse(res.Booking)
	out.Body.AlreadyCancelled = res.AlreadyCancelled
	out.Body.Degraded = res.Degraded
	return out
}

func toRescheduleOutput(res app.RescheduleResult) *RescheduleOutput {
	out := &RescheduleOutput{}
	out.Body.Booking = toBookingResponse(res.Booking)
	out.Body.PreviousSlotID = res.PreviousSlotID
	return out
}

// ErrorResponse is the body of every failed booking operation.
type ErrorResponse struct {
	status  int
	Code    string `json:"code" doc:"Machine-readable outcome"`
	Message string `json:"message" doc:"Safe to show to customers"`
}

func (e *ErrorResponse) Error() string  { return e.Message }
func (e *ErrorResponse) GetStatus() int { return e.status }

// Error codes for failures that carry none from the engine.
const (
	codeNotFound = "NOT_FOUND"
	codeRejected = "REJECTED"
)

// toHumaError translates domain errors to HTTP errors. Only rejection
// messages reach the client; anything else becomes a generic 500.
func toHumaError(err error) error {
	code := ""
	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		code = string(opErr.Code)
	}

	for _, notFound := range []error{domain.ErrSlotNotFound, domain.ErrBookingNotFound, domain.ErrCustomerNotFound} {
		if errors.Is(err, notFound) {
			return &ErrorResponse{status: http.StatusNotFound, Code: orDefault(code, codeNotFound), Message: notFound.Error()}
		}
	}

	msg, ok := domain.RejectionMessage(err)
	if !ok {
		return &ErrorResponse{
			status:  http.StatusInternalServerError,
			Code:    string(domain.CodeUnknown),
			Message: domain.MessageUnexpected,
		}
	}

	status := http.StatusConflict
	var vErr *domain.ValidationError
	var trErr *domain.TransitionError
	var wzErr *domain.WizardTransitionError
	if errors.As(err, &vErr) || errors.As(err, &trErr) || errors.As(err, &wzErr) {
		status = http.StatusUnprocessableEntity
	}
	return &ErrorResponse{status: status, Code: orDefault(code, codeRejected), Message: msg}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
