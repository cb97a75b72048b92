package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/pitlane/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.Store using SQLite.
type Store struct {
	db *sql.DB
	q  executor
}

// Compile-time check: Store implements domain.Store.
var _ domain.Store = (*Store)(nil)

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: ":memory:" databases are per connection, and writers
	// serialize anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Slots ---

var slotColumns = []string{
	"id", "start_time", "end_time", "max_capacity", "current_bookings_count", "type", "status",
}

const slotReturning = "RETURNING id, start_time, end_time, max_capacity, current_bookings_count, type, status"

func (s *Store) CreateSlot(ctx context.Context, slot domain.Slot) error {
	query, args, err := sq.Insert("slots").
		Columns(slotColumns...).
		Values(
			slot.ID, formatTime(slot.StartTime), formatTime(slot.EndTime),
			slot.MaxCapacity, slot.BookedCount, string(slot.Type), string(slot.Status),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building slot insert: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting slot: %w", err)
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (domain.Slot, error) {
	query, args, err := sq.Select(slotColumns...).From("slots").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Slot{}, fmt.Errorf("building slot select: %w", err)
	}
	return scanSlot(s.q.QueryRowContext(ctx, query, args...))
}

func (s *Store) ListSlots(ctx context.Context, filter domain.SlotFilter) ([]domain.Slot, error) {
	b := sq.Select(slotColumns...).From("slots").OrderBy("start_time ASC")

	if !filter.From.IsZero() {
		b = b.Where(sq.GtOrEq{"start_time": formatTime(filter.From)})
	}
	if !filter.To.IsZero() {
		b = b.Where(sq.Lt{"start_time": formatTime(filter.To)})
	}
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.ExcludeSlotID != "" {
		b = b.Where(sq.NotEq{"id": filter.ExcludeSlotID})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building slot list: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	return slots, rows.Err()
}

func (s *Store) SetSlotStatus(ctx context.Context, id string, status domain.SlotStatus) error {
	query, args, err := sq.Update("slots").
		Set("status", string(status)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building slot status update: %w", err)
	}

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating slot status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

// ClaimSlot checks and increments occupancy in one statement, so two
// concurrent claims can never both pass on the same pre-update count.
// SET expressions read the row as it was before the update.
func (s *Store) ClaimSlot(ctx context.Context, id string, sessionType domain.SessionType, partySize int) (domain.Slot, error) {
	query, args, err := sq.Update("slots").
		Set("type", sq.Expr("CASE WHEN current_bookings_count = 0 THEN ? ELSE type END", string(sessionType))).
		Set("current_bookings_count", sq.Expr("current_bookings_count + ?", partySize)).
		Where(sq.Eq{"id": id, "status": string(domain.SlotAvailable)}).
		Where(sq.Expr("current_bookings_count + ? <= max_capacity", partySize)).
		Where(sq.Expr("(current_bookings_count = 0 OR (? = 'OPEN' AND type = 'OPEN'))", string(sessionType))).
		Suffix(slotReturning).
		ToSql()
	if err != nil {
		return domain.Slot{}, fmt.Errorf("building slot claim: %w", err)
	}

	slot, err := scanSlot(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, domain.ErrSlotNotFound) {
		// No row matched: either the slot is gone or the guard failed.
		if _, getErr := s.GetSlot(ctx, id); getErr != nil {
			return domain.Slot{}, getErr
		}
		return domain.Slot{}, domain.ErrClaimConflict
	}
	if err != nil {
		return domain.Slot{}, fmt.Errorf("claiming slot: %w", err)
	}
	return slot, nil
}

func (s *Store) ReleaseSlot(ctx context.Context, id string, partySize int) (domain.Slot, error) {
	query, args, err := sq.Update("slots").
		Set("type", sq.Expr("CASE WHEN current_bookings_count - ? <= 0 THEN 'OPEN' ELSE type END", partySize)).
		Set("current_bookings_count", sq.Expr("MAX(0, current_bookings_count - ?)", partySize)).
		Where(sq.Eq{"id": id}).
		Suffix(slotReturning).
		ToSql()
	if err != nil {
		return domain.Slot{}, fmt.Errorf("building slot release: %w", err)
	}

	slot, err := scanSlot(s.q.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, domain.ErrSlotNotFound) {
		return domain.Slot{}, fmt.Errorf("releasing slot: %w", err)
	}
	return slot, err
}

func (s *Store) SetSlotOccupancy(ctx context.Context, id string, count int) (domain.Slot, error) {
	query, args, err := sq.Update("slots").
		Set("type", sq.Expr("CASE WHEN ? = 0 THEN 'OPEN' ELSE type END", count)).
		Set("current_bookings_count", count).
		Where(sq.Eq{"id": id}).
		Suffix(slotReturning).
		ToSql()
	if err != nil {
		return domain.Slot{}, fmt.Errorf("building slot occupancy update: %w", err)
	}

	slot, err := scanSlot(s.q.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, domain.ErrSlotNotFound) {
		return domain.Slot{}, fmt.Errorf("setting slot occupancy: %w", err)
	}
	return slot, err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (domain.Slot, error) {
	var slot domain.Slot
	var start, end, typ, status string

	err := row.Scan(&slot.ID, &start, &end, &slot.MaxCapacity, &slot.BookedCount, &typ, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Slot{}, domain.ErrSlotNotFound
		}
		return domain.Slot{}, fmt.Errorf("scanning slot: %w", err)
	}

	slot.StartTime = parseTime(start)
	slot.EndTime = parseTime(end)
	slot.Type = domain.SessionType(typ)
	slot.Status = domain.SlotStatus(status)
	return slot, nil
}

// --- Bookings ---

var bookingColumns = []string{
	"id", "status", "people_count", "total_amount_cents", "session_type", "slot_id",
	"customer_id", "reschedule_count", "management_token", "created_at", "updated_at",
}

func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) error {
	query, args, err := sq.Insert("bookings").
		Columns(bookingColumns...).
		Values(
			b.ID, string(b.Status), b.PeopleCount, b.TotalCents, string(b.SessionType), b.SlotID,
			b.CustomerID, b.RescheduleCount, b.ManagementToken,
			formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building booking insert: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return s.getBookingWhere(ctx, sq.Eq{"id": id})
}

func (s *Store) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	return s.getBookingWhere(ctx, sq.Eq{"management_token": token})
}

func (s *Store) getBookingWhere(ctx context.Context, where sq.Eq) (domain.Booking, error) {
	query, args, err := sq.Select(bookingColumns...).From("bookings").Where(where).ToSql()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("building booking select: %w", err)
	}

	var b domain.Booking
	var status, sessionType, createdAt, updatedAt string

	err = s.q.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &status, &b.PeopleCount, &b.TotalCents, &sessionType, &b.SlotID,
		&b.CustomerID, &b.RescheduleCount, &b.ManagementToken, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("scanning booking: %w", err)
	}

	b.Status = domain.Status(status)
	b.SessionType = domain.SessionType(sessionType)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// UpdateBooking persists the booking's mutable fields, including the
// UpdatedAt set by the caller. A zero UpdatedAt stamps the current time.
func (s *Store) UpdateBooking(ctx context.Context, b domain.Booking) error {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query, args, err := sq.Update("bookings").
		Set("status", string(b.Status)).
		Set("slot_id", b.SlotID).
		Set("reschedule_count", b.RescheduleCount).
		Set("updated_at", formatTime(updatedAt)).
		Where(sq.Eq{"id": b.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building booking update: %w", err)
	}

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (s *Store) ActiveHeadcount(ctx context.Context, slotID string) (int, error) {
	query, args, err := sq.Select("COALESCE(SUM(people_count), 0)").
		From("bookings").
		Where(sq.Eq{"slot_id": slotID}).
		Where(sq.NotEq{"status": string(domain.StatusCancelled)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building headcount query: %w", err)
	}

	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting headcount: %w", err)
	}
	return n, nil
}

// --- Customers ---

func (s *Store) UpsertCustomer(ctx context.Context, name, phone string) (domain.Customer, error) {
	now := formatTime(time.Now())

	query, args, err := sq.Insert("customers").
		Columns("id", "name", "phone", "created_at", "updated_at").
		Values(uuid.NewString(), name, phone, now, now).
		Suffix("ON CONFLICT (phone) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at").
		Suffix("RETURNING id, name, phone, created_at, updated_at").
		ToSql()
	if err != nil {
		return domain.Customer{}, fmt.Errorf("building customer upsert: %w", err)
	}

	c, err := scanCustomer(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Customer{}, fmt.Errorf("upserting customer: %w", err)
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	query, args, err := sq.Select("id", "name", "phone", "created_at", "updated_at").
		From("customers").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Customer{}, fmt.Errorf("building customer select: %w", err)
	}
	return scanCustomer(s.q.QueryRowContext(ctx, query, args...))
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var createdAt, updatedAt string

	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("scanning customer: %w", err)
	}

	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}
