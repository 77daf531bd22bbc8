package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Date and clock formats used across the schedule. Dates are stored
// YYYY-MM-DD so that lexicographic order is chronological order.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Booking is one appointment row.
type Booking struct {
	ID           int64
	ProjectID    string
	Specialist   string
	Date         string // YYYY-MM-DD
	Clock        string // HH:MM
	ClientID     string
	ClientName   string
	ClientPhone  string
	Service      string
	DurationMin  int
	Status       string
	ReminderSent bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Slots returns the booking length in 30-minute slots.
func (b *Booking) Slots() int {
	if b.DurationMin <= 30 {
		return 1
	}
	return b.DurationMin / 30
}

const bookingColumns = `id, project_id, specialist_name, appointment_date, appointment_time,
	client_id, COALESCE(client_name,''), COALESCE(client_phone,''), COALESCE(service_name,''),
	duration_minutes, status, reminder_sent, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*Booking, error) {
	var b Booking
	var created, updated string
	var reminded int
	err := row.Scan(&b.ID, &b.ProjectID, &b.Specialist, &b.Date, &b.Clock,
		&b.ClientID, &b.ClientName, &b.ClientPhone, &b.Service,
		&b.DurationMin, &b.Status, &reminded, &created, &updated)
	if err != nil {
		return nil, err
	}
	b.ReminderSent = reminded != 0
	b.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
	b.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
	return &b, nil
}

// CreateBooking inserts a new active booking and fills in its ID.
func (d *DB) CreateBooking(ctx context.Context, b *Booking) error {
	if b.Status == "" {
		b.Status = "active"
	}
	if b.DurationMin == 0 {
		b.DurationMin = 30
	}
	res, err := d.ExecContext(ctx, `
		INSERT INTO bookings (project_id, specialist_name, appointment_date, appointment_time,
			client_id, client_name, client_phone, service_name, duration_minutes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ProjectID, b.Specialist, b.Date, b.Clock,
		b.ClientID, b.ClientName, b.ClientPhone, b.Service, b.DurationMin, b.Status)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// UpdateBooking rewrites the mutable fields of a booking.
func (d *DB) UpdateBooking(ctx context.Context, b *Booking) error {
	_, err := d.ExecContext(ctx, `
		UPDATE bookings
		SET specialist_name = ?, appointment_date = ?, appointment_time = ?,
			client_name = ?, client_phone = ?, service_name = ?, duration_minutes = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		b.Specialist, b.Date, b.Clock, b.ClientName, b.ClientPhone, b.Service, b.DurationMin, b.ID)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", b.ID, err)
	}
	return nil
}

// CancelBooking marks a booking cancelled.
func (d *DB) CancelBooking(ctx context.Context, id int64) error {
	_, err := d.ExecContext(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("cancel booking %d: %w", id, err)
	}
	return nil
}

// BookingQuery narrows a FindActiveBooking lookup. Empty fields are
// ignored. Latest orders by date descending and takes the newest match.
type BookingQuery struct {
	Specialist string
	Date       string
	Clock      string
	Latest     bool
}

// FindActiveBooking returns the client's active booking matching the query,
// or nil when there is none.
func (d *DB) FindActiveBooking(ctx context.Context, projectID, clientID string, q BookingQuery) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE project_id = ? AND client_id = ? AND status = 'active'`
	args := []any{projectID, clientID}
	if q.Specialist != "" {
		query += ` AND specialist_name = ?`
		args = append(args, q.Specialist)
	}
	if q.Date != "" {
		query += ` AND appointment_date = ?`
		args = append(args, q.Date)
	}
	if q.Clock != "" {
		query += ` AND appointment_time = ?`
		args = append(args, q.Clock)
	}
	if q.Latest {
		query += ` ORDER BY appointment_date DESC, appointment_time DESC`
	}
	query += ` LIMIT 1`

	b, err := scanBooking(d.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

// SpecialistDayBookings lists a specialist's active bookings on a date.
func (d *DB) SpecialistDayBookings(ctx context.Context, projectID, specialist, date string) ([]*Booking, error) {
	rows, err := d.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE project_id = ? AND specialist_name = ? AND appointment_date = ? AND status = 'active'
		ORDER BY appointment_time`, projectID, specialist, date)
	if err != nil {
		return nil, fmt.Errorf("day bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ActiveClientBookings lists all active bookings for a client.
func (d *DB) ActiveClientBookings(ctx context.Context, projectID, clientID string) ([]*Booking, error) {
	rows, err := d.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE project_id = ? AND client_id = ? AND status = 'active'
		ORDER BY appointment_date, appointment_time`, projectID, clientID)
	if err != nil {
		return nil, fmt.Errorf("client bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// LatestClientBooking returns the newest booking for a client regardless of
// status, used to backfill name and phone on feedback.
func (d *DB) LatestClientBooking(ctx context.Context, projectID, clientID string) (*Booking, error) {
	b, err := scanBooking(d.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE project_id = ? AND client_id = ?
		ORDER BY created_at DESC LIMIT 1`, projectID, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest booking: %w", err)
	}
	return b, nil
}

// DueReminders returns active bookings whose appointment falls inside
// [from, to) and that have not been reminded yet.
func (d *DB) DueReminders(ctx context.Context, projectID string, from, to time.Time) ([]*Booking, error) {
	rows, err := d.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE project_id = ? AND status = 'active' AND reminder_sent = 0
		AND (appointment_date || ' ' || appointment_time) >= ?
		AND (appointment_date || ' ' || appointment_time) < ?`,
		projectID, from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// MarkReminded flags a booking so it is never reminded twice.
func (d *DB) MarkReminded(ctx context.Context, id int64) error {
	_, err := d.ExecContext(ctx, `UPDATE bookings SET reminder_sent = 1 WHERE id = ?`, id)
	return err
}

// Stats summarizes bookings for a project.
type Stats struct {
	Total     int `json:"total_bookings"`
	Active    int `json:"active_bookings"`
	Cancelled int `json:"cancelled_bookings"`
}

// BookingStats counts bookings by status.
func (d *DB) BookingStats(ctx context.Context, projectID string) (Stats, error) {
	var s Stats
	err := d.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(status = 'active'), 0),
			COALESCE(SUM(status = 'cancelled'), 0)
		FROM bookings WHERE project_id = ?`, projectID).
		Scan(&s.Total, &s.Active, &s.Cancelled)
	if err != nil {
		return Stats{}, fmt.Errorf("booking stats: %w", err)
	}
	return s, nil
}

func collectBookings(rows *sql.Rows) ([]*Booking, error) {
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
