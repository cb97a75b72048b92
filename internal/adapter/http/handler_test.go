package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	adapter "github.com/neomorfeo/pitlane/internal/adapter/http"
	"github.com/neomorfeo/pitlane/internal/adapter/fsm"
	"github.com/neomorfeo/pitlane/internal/adapter/sqlite"
	"github.com/neomorfeo/pitlane/internal/app"
	"github.com/neomorfeo/pitlane/internal/domain"
)

const testDay = "2026-03-14"

// noopPublisher is a no-op EventPublisher for tests.
type noopPublisher struct{}

func (p *noopPublisher) Publish(_ context.Context, _ domain.Event, _ domain.Booking) error {
	return nil
}

// newTestServer creates a full-stack httptest.Server with SQLite in-memory.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bookings := app.NewBookingService(store, &noopPublisher{}, fsm.New())
	slots := app.NewSlotService(store, app.DefaultSchedule, time.UTC)

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("pitlane", "0.1.0"))
	adapter.Register(api, bookings, slots)
	adapter.RegisterWizard(api, adapter.NewWizardSessions(bookings, fsm.New()))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

// decode reads a JSON body into v and closes it.
func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// expectError checks status and engine code of a failed request.
func expectError(t *testing.T, resp *http.Response, status int, code string) adapter.ErrorResponse {
	t.Helper()
	if resp.StatusCode != status {
		resp.Body.Close()
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var e adapter.ErrorResponse
	decode(t, resp, &e)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
	return e
}

// mustCreateSlot adds a slot at the given hour of testDay.
func mustCreateSlot(t *testing.T, srv *httptest.Server, hour int) adapter.SlotResponse {
	t.Helper()

	body := fmt.Sprintf(`{"start_time":"%sT%02d:00:00Z"}`, testDay, hour)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/slots", body)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("create slot: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var slot adapter.SlotResponse
	decode(t, resp, &slot)
	return slot
}

type createdBooking struct {
	BookingID       string `json:"booking_id"`
	ManagementToken string `json:"management_token"`
	CustomerID      string `json:"customer_id"`
}

// mustBook creates a booking via the API.
func mustBook(t *testing.T, srv *httptest.Server, slotID, sessionType string, party int) createdBooking {
	t.Helper()

	body := fmt.Sprintf(`{"name":"Ana Souza","phone":"(41) 99999-0000","slot_id":%q,"party_size":%d,"session_type":%q}`,
		slotID, party, sessionType)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings", body)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("create booking: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var b createdBooking
	decode(t, resp, &b)
	return b
}

func getSlotFromListing(t *testing.T, srv *httptest.Server, query, id string) (adapter.SlotResponse, bool) {
	t.Helper()

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/available?"+query, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("list: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var slots []adapter.SlotResponse
	decode(t, resp, &slots)
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return adapter.SlotResponse{}, false
}

// --- Slots ---

func TestCreateSlot(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	if slot.ID == "" {
		t.Error("ID should not be empty")
	}
	if slot.StartTime != testDay+"T13:00:00Z" {
		t.Errorf("StartTime = %q", slot.StartTime)
	}
	if slot.EndTime != testDay+"T13:25:00Z" {
		t.Errorf("EndTime = %q", slot.EndTime)
	}
	if slot.MaxCapacity != 15 || slot.AvailableSpots != 15 {
		t.Errorf("capacity = %d, spots = %d, want 15/15", slot.MaxCapacity, slot.AvailableSpots)
	}
	if slot.Type != "OPEN" || slot.Status != "AVAILABLE" {
		t.Errorf("type/status = %s/%s, want OPEN/AVAILABLE", slot.Type, slot.Status)
	}
}

func TestGenerateDay(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/slots/generate", `{"date":"`+testDay+`"}`)
	var out struct {
		Created int                    `json:"created"`
		Slots   []adapter.SlotResponse `json:"slots"`
	}
	decode(t, resp, &out)

	// 10:00 to 21:30 every half hour.
	if out.Created != 24 {
		t.Fatalf("created = %d, want 24", out.Created)
	}
	if out.Slots[0].StartTime != testDay+"T10:00:00Z" {
		t.Errorf("first slot = %q", out.Slots[0].StartTime)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/slots/generate", `{"date":"`+testDay+`"}`)
	decode(t, resp, &out)
	if out.Created != 0 {
		t.Errorf("second run created = %d, want 0", out.Created)
	}
}

func TestSetSlotStatus_MaintenanceHidesSlot(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/slots/"+slot.ID+"/status", `{"status":"MAINTENANCE"}`)
	var updated adapter.SlotResponse
	decode(t, resp, &updated)
	if updated.Status != "MAINTENANCE" {
		t.Fatalf("Status = %q, want MAINTENANCE", updated.Status)
	}

	if _, ok := getSlotFromListing(t, srv, "date="+testDay, slot.ID); ok {
		t.Error("slot under maintenance should not be listed")
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings",
		fmt.Sprintf(`{"name":"Ana","phone":"41999990000","slot_id":%q,"party_size":2,"session_type":"OPEN"}`, slot.ID))
	e := expectError(t, resp, http.StatusConflict, "SLOT_ERROR")
	if e.Message != domain.ErrSlotUnavailable.Error() {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestSetSlotStatus_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/slots/nope/status", `{"status":"MAINTENANCE"}`)
	expectError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestGetSlot(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)
	mustBook(t, srv, slot.ID, "OPEN", 4)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/"+slot.ID, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got adapter.SlotResponse
	decode(t, resp, &got)

	if got.ID != slot.ID {
		t.Errorf("ID = %q, want %q", got.ID, slot.ID)
	}
	if got.BookedCount != 4 || got.AvailableSpots != 11 {
		t.Errorf("counts = %d booked / %d left, want 4 / 11", got.BookedCount, got.AvailableSpots)
	}
}

func TestGetSlot_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/nope", "")
	expectError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

// --- List ---

func TestListAvailable(t *testing.T) {
	srv := newTestServer(t)
	early := mustCreateSlot(t, srv, 15)
	late := mustCreateSlot(t, srv, 11)
	mustBook(t, srv, early.ID, "OPEN", 12)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/available?date="+testDay+"&party_size=4", "")
	var slots []adapter.SlotResponse
	decode(t, resp, &slots)

	if len(slots) != 1 || slots[0].ID != late.ID {
		t.Fatalf("got %+v, want only the empty slot", slots)
	}

	got, ok := getSlotFromListing(t, srv, "date="+testDay+"&party_size=3", early.ID)
	if !ok {
		t.Fatal("slot with 3 spots left should take a party of 3")
	}
	if got.AvailableSpots != 3 {
		t.Errorf("AvailableSpots = %d, want 3", got.AvailableSpots)
	}
}

func TestListAvailable_ClosedNeedsEmptySlot(t *testing.T) {
	srv := newTestServer(t)
	busy := mustCreateSlot(t, srv, 13)
	mustBook(t, srv, busy.ID, "OPEN", 1)
	empty := mustCreateSlot(t, srv, 14)

	if _, ok := getSlotFromListing(t, srv, "date="+testDay+"&session_type=CLOSED&party_size=15", busy.ID); ok {
		t.Error("occupied slot should not be offered for a private session")
	}
	if _, ok := getSlotFromListing(t, srv, "date="+testDay+"&session_type=CLOSED&party_size=15", empty.ID); !ok {
		t.Error("empty slot should be offered for a private session")
	}
}

func TestListAvailable_ExcludeSlot(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	if _, ok := getSlotFromListing(t, srv, "date="+testDay+"&exclude_slot_id="+slot.ID, slot.ID); ok {
		t.Error("excluded slot should not be listed")
	}
}

func TestListAvailable_OtherDayEmpty(t *testing.T) {
	srv := newTestServer(t)
	mustCreateSlot(t, srv, 13)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/available?date=2026-03-15", "")
	var slots []adapter.SlotResponse
	decode(t, resp, &slots)
	if len(slots) != 0 {
		t.Errorf("got %d slots, want 0", len(slots))
	}
}

func TestListAvailable_BadDate(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/slots/available?date=14-03-2026", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

// --- Create ---

func TestCreateBooking(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	created := mustBook(t, srv, slot.ID, "OPEN", 4)
	if created.BookingID == "" || created.ManagementToken == "" || created.CustomerID == "" {
		t.Fatalf("incomplete result: %+v", created)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/bookings/"+created.BookingID, "")
	var b adapter.BookingResponse
	decode(t, resp, &b)

	if b.Status != "CONFIRMED" {
		t.Errorf("Status = %q, want CONFIRMED", b.Status)
	}
	if b.PeopleCount != 4 {
		t.Errorf("PeopleCount = %d, want 4", b.PeopleCount)
	}
	// 4 x 110.00 less 10%.
	if b.TotalCents != 39600 || b.TotalAmount != 396 {
		t.Errorf("total = %d / %v, want 39600 / 396", b.TotalCents, b.TotalAmount)
	}
	if !b.CanReschedule {
		t.Error("new booking should be reschedulable")
	}
	if b.Slot == nil || b.Slot.BookedCount != 4 {
		t.Errorf("Slot = %+v, want 4 booked", b.Slot)
	}
	if b.Customer == nil || b.Customer.Phone != "41999990000" {
		t.Errorf("Customer = %+v, want normalized phone", b.Customer)
	}
}

func TestCreateBooking_TotalAmount(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings",
		fmt.Sprintf(`{"name":"Ana","phone":"41999990000","slot_id":%q,"party_size":2,"session_type":"OPEN","total_amount":199.99}`, slot.ID))
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var created createdBooking
	decode(t, resp, &created)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/bookings/"+created.BookingID, "")
	var b adapter.BookingResponse
	decode(t, resp, &b)
	if b.TotalCents != 19999 {
		t.Errorf("TotalCents = %d, want 19999", b.TotalCents)
	}
}

func TestCreateBooking_ClosedIntoOpenRejected(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)
	mustBook(t, srv, slot.ID, "OPEN", 4)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings",
		fmt.Sprintf(`{"name":"Bruno","phone":"41988887777","slot_id":%q,"party_size":15,"session_type":"CLOSED"}`, slot.ID))
	e := expectError(t, resp, http.StatusConflict, "CAPACITY_EXCEEDED")
	if e.Message != domain.ErrClosedRequiresEmpty.Error() {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestCreateBooking_UnknownSlot(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings",
		`{"name":"Ana","phone":"41999990000","slot_id":"nope","party_size":2,"session_type":"OPEN"}`)
	expectError(t, resp, http.StatusNotFound, "SLOT_ERROR")
}

func TestCreateBooking_InvalidPhone(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings",
		fmt.Sprintf(`{"name":"Ana","phone":"123","slot_id":%q,"party_size":2,"session_type":"OPEN"}`, slot.ID))
	expectError(t, resp, http.StatusUnprocessableEntity, "CUSTOMER_ERROR")
}

func TestCreateBooking_MissingField(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings", `{"name":"Ana","phone":"41999990000"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/bookings/nonexistent", "")
	expectError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

// --- Cancel ---

type cancelBody struct {
	Booking          adapter.BookingResponse `json:"booking"`
	AlreadyCancelled bool                    `json:"already_cancelled"`
	Degraded         bool                    `json:"degraded"`
}

func TestCancel(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)
	created := mustBook(t, srv, slot.ID, "CLOSED", 15)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/cancel", "")
	var out cancelBody
	decode(t, resp, &out)

	if out.Booking.Status != "CANCELLED" || out.AlreadyCancelled || out.Degraded {
		t.Fatalf("unexpected result %+v", out)
	}

	got, ok := getSlotFromListing(t, srv, "date="+testDay+"&session_type=CLOSED&party_size=15", slot.ID)
	if !ok {
		t.Fatal("freed slot should take a private session again")
	}
	if got.BookedCount != 0 || got.Type != "OPEN" {
		t.Errorf("slot = %d booked, type %s, want 0 / OPEN", got.BookedCount, got.Type)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/cancel", "")
	decode(t, resp, &out)
	if !out.AlreadyCancelled {
		t.Error("second cancel should report already_cancelled")
	}
}

func TestCancel_HintMismatch(t *testing.T) {
	srv := newTestServer(t)
	slot := mustCreateSlot(t, srv, 13)
	created := mustBook(t, srv, slot.ID, "OPEN", 3)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/cancel?party_size=5", "")
	e := expectError(t, resp, http.StatusConflict, "REJECTED")
	if e.Message != domain.ErrBookingMismatch.Error() {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestCancel_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/nope/cancel", "")
	expectError(t, resp, http.StatusNotFound, "NOT_FOUND")
}

// --- Reschedule ---

type rescheduleBody struct {
	Booking        adapter.BookingResponse `json:"booking"`
	PreviousSlotID string                  `json:"previous_slot_id"`
}

func TestReschedule_OnlyOnce(t *testing.T) {
	srv := newTestServer(t)
	from := mustCreateSlot(t, srv, 13)
	to := mustCreateSlot(t, srv, 14)
	other := mustCreateSlot(t, srv, 15)
	created := mustBook(t, srv, from.ID, "OPEN", 4)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/reschedule",
		fmt.Sprintf(`{"new_slot_id":%q,"current_slot_id":%q}`, to.ID, from.ID))
	var out rescheduleBody
	decode(t, resp, &out)

	if out.Booking.SlotID != to.ID || out.PreviousSlotID != from.ID {
		t.Fatalf("moved to %s from %s", out.Booking.SlotID, out.PreviousSlotID)
	}
	if out.Booking.RescheduleCount != 1 || out.Booking.CanReschedule {
		t.Errorf("RescheduleCount = %d, CanReschedule = %v", out.Booking.RescheduleCount, out.Booking.CanReschedule)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/reschedule",
		fmt.Sprintf(`{"new_slot_id":%q}`, other.ID))
	e := expectError(t, resp, http.StatusConflict, "REJECTED")
	if e.Message != "limit of 1 reschedule reached" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestReschedule_ClosedIntoOccupiedRejected(t *testing.T) {
	srv := newTestServer(t)
	from := mustCreateSlot(t, srv, 13)
	to := mustCreateSlot(t, srv, 14)
	mustBook(t, srv, to.ID, "OPEN", 1)
	created := mustBook(t, srv, from.ID, "CLOSED", 15)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+created.BookingID+"/reschedule",
		fmt.Sprintf(`{"new_slot_id":%q}`, to.ID))
	expectError(t, resp, http.StatusConflict, "REJECTED")

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/bookings/"+created.BookingID, "")
	var b adapter.BookingResponse
	decode(t, resp, &b)
	if b.SlotID != from.ID || b.RescheduleCount != 0 {
		t.Errorf("booking moved after rejection: slot %s, count %d", b.SlotID, b.RescheduleCount)
	}
}

// --- Self-service ---

func TestManage_TokenFlow(t *testing.T) {
	srv := newTestServer(t)
	from := mustCreateSlot(t, srv, 13)
	to := mustCreateSlot(t, srv, 14)
	created := mustBook(t, srv, from.ID, "OPEN", 2)
	base := srv.URL + "/api/v1/manage/" + created.ManagementToken

	resp := doRequest(t, http.MethodGet, base, "")
	var b adapter.BookingResponse
	decode(t, resp, &b)
	if b.ID != created.BookingID {
		t.Fatalf("ID = %q, want %q", b.ID, created.BookingID)
	}

	resp = doRequest(t, http.MethodPost, base+"/reschedule", fmt.Sprintf(`{"new_slot_id":%q}`, to.ID))
	var moved rescheduleBody
	decode(t, resp, &moved)
	if moved.Booking.SlotID != to.ID {
		t.Fatalf("SlotID = %q, want %q", moved.Booking.SlotID, to.ID)
	}

	resp = doRequest(t, http.MethodPost, base+"/cancel", "")
	var cancelled cancelBody
	decode(t, resp, &cancelled)
	if cancelled.Booking.Status != "CANCELLED" {
		t.Errorf("Status = %q, want CANCELLED", cancelled.Booking.Status)
	}
}

func TestManage_UnknownToken(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "", ""},
		{http.MethodPost, "/cancel", ""},
		{http.MethodPost, "/reschedule", `{"new_slot_id":"s-1"}`},
	} {
		resp := doRequest(t, tc.method, srv.URL+"/api/v1/manage/not-a-token"+tc.path, tc.body)
		expectError(t, resp, http.StatusNotFound, "NOT_FOUND")
	}
}

// --- Quote ---

func TestQuote(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/quote?party_size=4", "")
	var q struct {
		SubtotalCents int64   `json:"subtotal_cents"`
		DiscountCents int64   `json:"discount_cents"`
		TotalCents    int64   `json:"total_cents"`
		TotalAmount   float64 `json:"total_amount"`
	}
	decode(t, resp, &q)

	if q.SubtotalCents != 44000 || q.DiscountCents != 4400 || q.TotalCents != 39600 {
		t.Errorf("quote = %+v", q)
	}
	if q.TotalAmount != 396 {
		t.Errorf("TotalAmount = %v, want 396", q.TotalAmount)
	}
}

func TestQuote_OutsideLimits(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/quote?party_size=4&session_type=CLOSED", "")
	expectError(t, resp, http.StatusUnprocessableEntity, "REJECTED")
}
