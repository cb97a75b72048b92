package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/pitlane/internal/domain"
)

// Operation names used in logs, metrics and OperationError.Op.
const (
	OpList       = "list_available"
	OpCreate     = "create"
	OpCancel     = "cancel"
	OpReschedule = "reschedule"
	OpReconcile  = "reconcile"
)

// BookingService is the reconciliation engine: it keeps slot occupancy and
// booking records consistent across create, cancel and reschedule.
type BookingService struct {
	store      domain.Store
	publisher  domain.EventPublisher
	validator  domain.TransitionValidator
	reconciler domain.SlotReconciler
	recorder   domain.OutcomeRecorder
	location   *time.Location
	pricing    domain.PricingPolicy
	limits     domain.ParticipantLimits
	now        func() time.Time
}

// Option configures a BookingService.
type Option func(*BookingService)

// WithReconciler sets where degraded cancellations request a recount.
func WithReconciler(r domain.SlotReconciler) Option {
	return func(s *BookingService) { s.reconciler = r }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r domain.OutcomeRecorder) Option {
	return func(s *BookingService) { s.recorder = r }
}

// WithLocation sets the business time zone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *BookingService) { s.location = loc }
}

// WithPricing sets the pricing policy and participant limits.
func WithPricing(p domain.PricingPolicy, l domain.ParticipantLimits) Option {
	return func(s *BookingService) {
		s.pricing = p
		s.limits = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

// NewBookingService creates a service with the given adapters.
func NewBookingService(store domain.Store, publisher domain.EventPublisher, validator domain.TransitionValidator, opts ...Option) *BookingService {
	s := &BookingService{
		store:      store,
		publisher:  publisher,
		validator:  validator,
		reconciler: nopReconciler{},
		recorder:   nopRecorder{},
		location:   time.UTC,
		pricing:    domain.DefaultPricing,
		limits:     domain.DefaultLimits,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopReconciler struct{}

func (nopReconciler) RequestReconcile(context.Context, string, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Record(string, string) {}

// --- Listing ---

// ListAvailableSlots returns the slots of the query's local day that can take
// the requested party, ordered by start time.
func (s *BookingService) ListAvailableSlots(ctx context.Context, q domain.AvailabilityQuery) ([]domain.AvailableSlot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	from, to := domain.DayBounds(q.Date, s.location)
	available := domain.SlotAvailable

	slots, err := s.store.ListSlots(ctx, domain.SlotFilter{
		From:          from,
		To:            to,
		Status:        &available,
		ExcludeSlotID: q.ExcludeSlotID,
	})
	if err != nil {
		s.recorder.Record(OpList, domain.OutcomeError)
		return nil, fmt.Errorf("listing slots: %w", err)
	}

	s.recorder.Record(OpList, domain.OutcomeOK)
	return domain.FilterAvailable(slots, q), nil
}

// Quote prices a party after checking the participant limits for its type.
func (s *BookingService) Quote(sessionType domain.SessionType, partySize int) (domain.Quote, error) {
	if !sessionType.Valid() {
		return domain.Quote{}, &domain.ValidationError{Field: "session_type", Reason: "must be OPEN or CLOSED"}
	}
	if err := s.limits.Check(sessionType, partySize); err != nil {
		return domain.Quote{}, err
	}
	return s.pricing.Quote(partySize), nil
}

// --- Create ---

// CreateBookingRequest holds the input of Create.
type CreateBookingRequest struct {
	Name        string
	Phone       string
	SlotID      string
	PartySize   int
	TotalCents  int64 // zero means price with the configured policy
	SessionType domain.SessionType
}

// CreateBookingResult identifies a new booking.
type CreateBookingResult struct {
	BookingID       string
	ManagementToken string
	CustomerID      string
}

// stepError tags a failure inside a transaction with its error code.
type stepError struct {
	code domain.ErrorCode
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func step(code domain.ErrorCode, err error) error {
	return &stepError{code: code, err: err}
}

// Create reserves a party in a slot for a customer. Every step runs in one
// transaction and the slot claim is a conditional write, so a failure or a
// concurrent claim leaves nothing behind.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (CreateBookingResult, error) {
	name, err := domain.NormalizeName(req.Name)
	if err != nil {
		return CreateBookingResult{}, s.fail(ctx, OpCreate, domain.CodeCustomerError, err)
	}
	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		return CreateBookingResult{}, s.fail(ctx, OpCreate, domain.CodeCustomerError, err)
	}
	if !req.SessionType.Valid() {
		err := &domain.ValidationError{Field: "session_type", Reason: "must be OPEN or CLOSED"}
		return CreateBookingResult{}, s.fail(ctx, OpCreate, domain.CodeBookingError, err)
	}
	if req.PartySize < 1 {
		err := &domain.ValidationError{Field: "party_size", Reason: "must be at least 1"}
		return CreateBookingResult{}, s.fail(ctx, OpCreate, domain.CodeBookingError, err)
	}

	total := req.TotalCents
	if total <= 0 {
		total = s.pricing.Quote(req.PartySize).TotalCents
	}

	var booking domain.Booking

	err = s.store.RunInTx(ctx, func(tx domain.Store) error {
		slot, err := tx.GetSlot(ctx, req.SlotID)
		if errors.Is(err, domain.ErrSlotNotFound) {
			return step(domain.CodeSlotError, err)
		}
		if err != nil {
			return step(domain.CodeUnknown, err)
		}

		if err := slot.CheckClaim(req.SessionType, req.PartySize); err != nil {
			if errors.Is(err, domain.ErrSlotUnavailable) {
				return step(domain.CodeSlotError, err)
			}
			return step(domain.CodeCapacityExceeded, err)
		}

		customer, err := tx.UpsertCustomer(ctx, name, phone)
		if err != nil {
			return step(domain.CodeCustomerError, err)
		}

		booking = domain.NewBooking(newID(), newToken(), slot.ID, customer.ID, req.SessionType, req.PartySize, total)
		if err := tx.CreateBooking(ctx, booking); err != nil {
			return step(domain.CodeBookingError, err)
		}

		if _, err := tx.ClaimSlot(ctx, slot.ID, req.SessionType, req.PartySize); err != nil {
			if errors.Is(err, domain.ErrClaimConflict) {
				return step(domain.CodeCapacityExceeded, err)
			}
			return step(domain.CodeSlotError, err)
		}
		return nil
	})
	if err != nil {
		var se *stepError
		if errors.As(err, &se) {
			return CreateBookingResult{}, s.fail(ctx, OpCreate, se.code, err)
		}
		return CreateBookingResult{}, s.fail(ctx, OpCreate, domain.CodeUnknown, err)
	}

	s.succeed(ctx, OpCreate, domain.OutcomeOK, booking)
	s.publish(ctx, domain.EventCreated, booking)

	return CreateBookingResult{
		BookingID:       booking.ID,
		ManagementToken: booking.ManagementToken,
		CustomerID:      booking.CustomerID,
	}, nil
}

// --- Cancel ---

// CancelBookingRequest holds the input of Cancel. SlotID and PartySize are
// optional; when set they must match the stored booking.
type CancelBookingRequest struct {
	BookingID string
	SlotID    string
	PartySize int
}

// CancelResult reports how a cancellation went. Degraded means the booking
// is cancelled but the slot count could not be released; a reconciliation
// has been requested for the slot.
type CancelResult struct {
	Booking          domain.Booking
	AlreadyCancelled bool
	Degraded         bool
}

// Cancel cancels a booking and releases its seats.
func (s *BookingService) Cancel(ctx context.Context, req CancelBookingRequest) (CancelResult, error) {
	b, err := s.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return CancelResult{}, s.fail(ctx, OpCancel, "", err)
	}
	if err := checkHints(b, req.SlotID, "", req.PartySize); err != nil {
		return CancelResult{}, s.fail(ctx, OpCancel, "", err)
	}
	return s.cancel(ctx, b.ID)
}

// CancelByToken cancels the booking holding the management token.
func (s *BookingService) CancelByToken(ctx context.Context, token string) (CancelResult, error) {
	b, err := s.store.GetBookingByToken(ctx, token)
	if err != nil {
		return CancelResult{}, s.fail(ctx, OpCancel, "", err)
	}
	return s.cancel(ctx, b.ID)
}

func (s *BookingService) cancel(ctx context.Context, id string) (CancelResult, error) {
	var (
		result     CancelResult
		releaseErr error
	)

	// The booking is re-read inside the transaction so two concurrent
	// cancels release the seats once. The release shares the transaction
	// with the status flip: a recount can never observe the booking
	// cancelled while its seats are still held. A failed release statement
	// leaves the transaction usable, so the cancellation still commits.
	err := s.store.RunInTx(ctx, func(tx domain.Store) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.IsCancelled() {
			result = CancelResult{Booking: b, AlreadyCancelled: true}
			return nil
		}

		status, err := s.validator.Apply(ctx, b.Status, domain.EventCancel)
		if err != nil {
			return err
		}
		b.Status = status
		b.UpdatedAt = s.now().UTC()

		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		result = CancelResult{Booking: b}

		if _, err := tx.ReleaseSlot(ctx, b.SlotID, b.PeopleCount); err != nil {
			result.Degraded = true
			releaseErr = err
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, s.fail(ctx, OpCancel, "", err)
	}

	if result.AlreadyCancelled {
		s.succeed(ctx, OpCancel, domain.OutcomeNoop, result.Booking)
		return result, nil
	}

	b := result.Booking
	if result.Degraded {
		slog.WarnContext(ctx, "booking cancelled but slot release failed",
			"booking_id", b.ID, "slot_id", b.SlotID, "people", b.PeopleCount, "error", releaseErr)

		// Requested after commit so the recount sees the cancellation.
		if rErr := s.reconciler.RequestReconcile(ctx, b.SlotID, "cancel release failed"); rErr != nil {
			slog.ErrorContext(ctx, "requesting slot reconciliation failed",
				"slot_id", b.SlotID, "error", rErr)
		}
		s.succeed(ctx, OpCancel, domain.OutcomeDegraded, b)
	} else {
		s.succeed(ctx, OpCancel, domain.OutcomeOK, b)
	}

	s.publish(ctx, domain.EventCancelled, b)
	return result, nil
}

// --- Reschedule ---

// RescheduleRequest holds the input of Reschedule. CurrentSlotID,
// SessionType and PartySize are optional; when set they must match the
// stored booking, which is the source of truth for re-validation.
type RescheduleRequest struct {
	BookingID     string
	CurrentSlotID string
	NewSlotID     string
	SessionType   domain.SessionType
	PartySize     int
}

// RescheduleResult carries the moved booking.
type RescheduleResult struct {
	Booking        domain.Booking
	PreviousSlotID string
}

// Reschedule moves a booking to another slot, at most once. Release, claim
// and the counter increment commit together or not at all.
func (s *BookingService) Reschedule(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	return s.reschedule(ctx, req, func(tx domain.Store) (domain.Booking, error) {
		return tx.GetBooking(ctx, req.BookingID)
	})
}

// RescheduleByToken moves the booking holding the management token.
func (s *BookingService) RescheduleByToken(ctx context.Context, token, newSlotID string) (RescheduleResult, error) {
	return s.reschedule(ctx, RescheduleRequest{NewSlotID: newSlotID}, func(tx domain.Store) (domain.Booking, error) {
		return tx.GetBookingByToken(ctx, token)
	})
}

func (s *BookingService) reschedule(ctx context.Context, req RescheduleRequest, load func(domain.Store) (domain.Booking, error)) (RescheduleResult, error) {
	var result RescheduleResult

	err := s.store.RunInTx(ctx, func(tx domain.Store) error {
		b, err := load(tx)
		if err != nil {
			return err
		}
		if err := b.CanReschedule(); err != nil {
			return err
		}
		if err := checkHints(b, req.CurrentSlotID, req.SessionType, req.PartySize); err != nil {
			return err
		}
		if req.NewSlotID == b.SlotID {
			return domain.ErrSameSlot
		}

		target, err := tx.GetSlot(ctx, req.NewSlotID)
		if err != nil {
			return err
		}
		if target.Status != domain.SlotAvailable {
			return domain.ErrSlotUnavailable
		}
		if target.AvailableSpots() < b.PeopleCount {
			return domain.ErrInsufficientCapacity
		}
		if !target.Accepts(b.SessionType, b.PeopleCount) {
			if b.SessionType == domain.SessionClosed {
				return domain.ErrClosedRequiresEmpty
			}
			return domain.ErrIncompatibleSlot
		}

		if _, err := tx.ReleaseSlot(ctx, b.SlotID, b.PeopleCount); err != nil {
			return fmt.Errorf("releasing slot %s: %w", b.SlotID, err)
		}
		if _, err := tx.ClaimSlot(ctx, target.ID, b.SessionType, b.PeopleCount); err != nil {
			return fmt.Errorf("claiming slot %s: %w", target.ID, err)
		}

		result.PreviousSlotID = b.SlotID
		b.MoveTo(target.ID, s.now())
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("updating booking: %w", err)
		}
		result.Booking = b
		return nil
	})
	if err != nil {
		return RescheduleResult{}, s.fail(ctx, OpReschedule, "", err)
	}

	s.succeed(ctx, OpReschedule, domain.OutcomeOK, result.Booking)
	s.publish(ctx, domain.EventRescheduled, result.Booking)
	return result, nil
}

// checkHints compares caller-supplied booking details with the stored ones.
// Zero values are not checked.
func checkHints(b domain.Booking, slotID string, sessionType domain.SessionType, partySize int) error {
	if slotID != "" && slotID != b.SlotID {
		return domain.ErrBookingMismatch
	}
	if sessionType != "" && sessionType != b.SessionType {
		return domain.ErrBookingMismatch
	}
	if partySize != 0 && partySize != b.PeopleCount {
		return domain.ErrBookingMismatch
	}
	return nil
}

// --- Lookups ---

// BookingView is a booking with its slot and customer resolved.
type BookingView struct {
	Booking  domain.Booking
	Slot     domain.Slot
	Customer domain.Customer
}

// GetBooking returns a booking by id.
func (s *BookingService) GetBooking(ctx context.Context, id string) (BookingView, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return BookingView{}, err
	}
	return s.view(ctx, b)
}

// GetBookingByToken returns the booking holding the management token.
func (s *BookingService) GetBookingByToken(ctx context.Context, token string) (BookingView, error) {
	b, err := s.store.GetBookingByToken(ctx, token)
	if err != nil {
		return BookingView{}, err
	}
	return s.view(ctx, b)
}

func (s *BookingService) view(ctx context.Context, b domain.Booking) (BookingView, error) {
	slot, err := s.store.GetSlot(ctx, b.SlotID)
	if err != nil {
		return BookingView{}, fmt.Errorf("loading slot: %w", err)
	}
	customer, err := s.store.GetCustomer(ctx, b.CustomerID)
	if err != nil {
		return BookingView{}, fmt.Errorf("loading customer: %w", err)
	}
	return BookingView{Booking: b, Slot: slot, Customer: customer}, nil
}

// --- Reconcile ---

// Reconcile recounts a slot from its active bookings. The count is clamped
// to capacity; an empty slot goes back to OPEN.
func (s *BookingService) Reconcile(ctx context.Context, slotID string) (domain.Slot, error) {
	var out domain.Slot

	err := s.store.RunInTx(ctx, func(tx domain.Store) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		headcount, err := tx.ActiveHeadcount(ctx, slotID)
		if err != nil {
			return err
		}

		count := min(headcount, slot.MaxCapacity)
		if count != headcount {
			slog.WarnContext(ctx, "active bookings exceed slot capacity",
				"slot_id", slotID, "headcount", headcount, "capacity", slot.MaxCapacity)
		}

		out, err = tx.SetSlotOccupancy(ctx, slotID, count)
		if err != nil {
			return err
		}
		if slot.BookedCount != out.BookedCount {
			slog.InfoContext(ctx, "slot occupancy corrected",
				"slot_id", slotID, "was", slot.BookedCount, "now", out.BookedCount)
		}
		return nil
	})
	if err != nil {
		s.recorder.Record(OpReconcile, domain.OutcomeError)
		return domain.Slot{}, fmt.Errorf("reconciling slot %s: %w", slotID, err)
	}

	s.recorder.Record(OpReconcile, domain.OutcomeOK)
	return out, nil
}

// --- Outcomes ---

// fail records, logs and wraps a failed operation. Rejections keep their
// message; anything else is logged in full and hidden behind a generic one.
func (s *BookingService) fail(ctx context.Context, op string, code domain.ErrorCode, err error) error {
	if msg, ok := domain.RejectionMessage(err); ok {
		s.recorder.Record(op, domain.OutcomeRejected)
		slog.InfoContext(ctx, "booking operation rejected", "op", op, "code", code, "reason", msg)
		return &domain.OperationError{Op: op, Code: code, Message: msg, Err: err}
	}

	if code == "" {
		code = domain.CodeUnknown
	}
	s.recorder.Record(op, domain.OutcomeError)
	slog.ErrorContext(ctx, "booking operation failed", "op", op, "code", code, "error", err)
	return &domain.OperationError{Op: op, Code: code, Message: domain.MessageUnexpected, Err: err}
}

func (s *BookingService) succeed(ctx context.Context, op, outcome string, b domain.Booking) {
	s.recorder.Record(op, outcome)
	slog.InfoContext(ctx, "booking operation completed",
		"op", op, "outcome", outcome, "booking_id", b.ID, "slot_id", b.SlotID, "people", b.PeopleCount)
}

// publish emits an event after commit. Delivery is best effort: the booking
// change already happened.
func (s *BookingService) publish(ctx context.Context, event domain.Event, b domain.Booking) {
	if err := s.publisher.Publish(ctx, event, b); err != nil {
		slog.ErrorContext(ctx, "publishing booking event failed",
			"event", event, "booking_id", b.ID, "error", err)
	}
}
