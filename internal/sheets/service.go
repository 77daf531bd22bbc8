// Package sheets keeps the salon's Google Sheets schedule in sync with the
// bot. Each specialist has a tab in the schedule spreadsheet: row 1 holds
// the slot-time header, column A holds dates, and a non-empty cell means
// the slot is taken. Cancellations, transfers, feedback and reminder rows
// go to tabs of a separate logs spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/store"
)

// Logs spreadsheet tab names, matching what the salon staff read.
const (
	cancellationSheet = "Отмены"
	transferSheet     = "Переносы"
	feedbackSheet     = "Хран"
	reminderSheet     = "Напоминания"
)

// Service talks to the schedule and logs spreadsheets.
type Service struct {
	api   *sheets.Service
	salon *config.Salon
	log   *zap.Logger
	grid  []string // HH:MM for every slot of the working day
}

var _ booking.Schedule = (*Service)(nil)

// New builds the client from a service-account credentials file.
func New(ctx context.Context, credentialsFile string, salon *config.Salon, log *zap.Logger) (*Service, error) {
	api, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	grid, err := dayGrid(salon.DayStart, salon.DayEnd)
	if err != nil {
		return nil, err
	}
	return &Service{
		api:   api,
		salon: salon,
		log:   log.Named("sheets"),
		grid:  grid,
	}, nil
}

// dayGrid expands the working day into 30-minute slot labels. The end time
// is exclusive.
func dayGrid(start, end string) ([]string, error) {
	from, err := time.Parse(store.ClockLayout, start)
	if err != nil {
		return nil, fmt.Errorf("day start %q: %w", start, err)
	}
	to, err := time.Parse(store.ClockLayout, end)
	if err != nil {
		return nil, fmt.Errorf("day end %q: %w", end, err)
	}
	var grid []string
	for t := from; t.Before(to); t = t.Add(booking.SlotMinutes * time.Minute) {
		grid = append(grid, t.Format(store.ClockLayout))
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("empty working day %s-%s", start, end)
	}
	return grid, nil
}

// dayRow reads the schedule row for one date on a specialist's tab. The
// returned slice is aligned with the slot grid; "" means free. ok is false
// when the date has no row, which reads as a fully closed day.
func (s *Service) dayRow(ctx context.Context, specialist string, date time.Time) ([]string, int, bool, error) {
	dates, err := s.api.Spreadsheets.Values.
		Get(s.salon.ScheduleSpreadsheet, fmt.Sprintf("%s!A2:A", specialist)).
		Context(ctx).Do()
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s dates: %w", specialist, err)
	}

	want := booking.HumanDate(date)
	rowIdx := -1
	for i, row := range dates.Values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == want {
			rowIdx = i + 2 // 1-based, skipping the header row
			break
		}
	}
	if rowIdx < 0 {
		return nil, 0, false, nil
	}

	lastCol := colLetter(len(s.grid)) // column A is the date
	resp, err := s.api.Spreadsheets.Values.
		Get(s.salon.ScheduleSpreadsheet, fmt.Sprintf("%s!B%d:%s%d", specialist, rowIdx, lastCol, rowIdx)).
		Context(ctx).Do()
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s row %d: %w", specialist, rowIdx, err)
	}

	cells := make([]string, len(s.grid))
	if len(resp.Values) > 0 {
		for i := range cells {
			if i < len(resp.Values[0]) {
				cells[i] = strings.TrimSpace(fmt.Sprint(resp.Values[0][i]))
			}
		}
	}
	return cells, rowIdx, true, nil
}

// IsSlotFree reports whether a single slot is open on the sheet. A date
// with no schedule row counts as closed.
func (s *Service) IsSlotFree(ctx context.Context, specialist string, date, clock time.Time) (bool, error) {
	cells, _, ok, err := s.dayRow(ctx, specialist, date)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Warn("date not on schedule",
			zap.String("specialist", specialist),
			zap.String("date", booking.HumanDate(date)))
		return false, nil
	}
	idx := s.slotIndex(clock.Format(store.ClockLayout))
	if idx < 0 {
		return false, nil
	}
	return cells[idx] == "", nil
}

// DaySchedule returns, per specialist, the slots where an appointment of
// the given length can start, and the slots already taken.
func (s *Service) DaySchedule(ctx context.Context, date time.Time, slots int) (map[string][]string, map[string][]string, error) {
	if slots < 1 {
		slots = 1
	}
	available := make(map[string][]string, len(s.salon.Specialists))
	reserved := make(map[string][]string, len(s.salon.Specialists))

	for _, specialist := range s.salon.Specialists {
		cells, _, ok, err := s.dayRow(ctx, specialist, date)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			available[specialist] = nil
			reserved[specialist] = nil
			continue
		}
		var free, taken []string
		for i, cell := range cells {
			if cell != "" {
				taken = append(taken, s.grid[i])
				continue
			}
			fits := i+slots <= len(cells)
			for j := i; fits && j < i+slots; j++ {
				if cells[j] != "" {
					fits = false
				}
			}
			if fits {
				free = append(free, s.grid[i])
			}
		}
		available[specialist] = free
		reserved[specialist] = taken
	}
	return available, reserved, nil
}

// WriteBookingSlot marks every slot of a booking with the client label.
func (s *Service) WriteBookingSlot(ctx context.Context, b *store.Booking) error {
	date, err := time.Parse(store.DateLayout, b.Date)
	if err != nil {
		return fmt.Errorf("booking date %q: %w", b.Date, err)
	}
	clock, err := time.Parse(store.ClockLayout, b.Clock)
	if err != nil {
		return fmt.Errorf("booking time %q: %w", b.Clock, err)
	}

	_, rowIdx, ok, err := s.dayRow(ctx, b.Specialist, date)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("date %s not on %s schedule", booking.HumanDate(date), b.Specialist)
	}

	label := b.ClientName
	if label == "" {
		label = b.ClientID
	}
	if b.Service != "" {
		label += " (" + b.Service + ")"
	}

	return s.writeSlots(ctx, b.Specialist, rowIdx, clock, b.Slots(), label)
}

// ClearBookingSlot empties the slots a booking occupied.
func (s *Service) ClearBookingSlot(ctx context.Context, specialist string, date, clock time.Time, slots int) error {
	_, rowIdx, ok, err := s.dayRow(ctx, specialist, date)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.writeSlots(ctx, specialist, rowIdx, clock, slots, "")
}

func (s *Service) writeSlots(ctx context.Context, specialist string, rowIdx int, clock time.Time, slots int, value string) error {
	if slots < 1 {
		slots = 1
	}
	for _, slot := range booking.SlotTimes(clock, slots) {
		idx := s.slotIndex(slot)
		if idx < 0 {
			continue
		}
		cell := fmt.Sprintf("%s!%s%d", specialist, colLetter(idx+1), rowIdx)
		_, err := s.api.Spreadsheets.Values.
			Update(s.salon.ScheduleSpreadsheet, cell, &sheets.ValueRange{Values: [][]any{{value}}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write %s: %w", cell, err)
		}
	}
	s.log.Debug("slots written",
		zap.String("specialist", specialist),
		zap.Int("row", rowIdx),
		zap.Int("slots", slots),
		zap.Bool("cleared", value == ""))
	return nil
}

// LogCancellation appends one row to the cancellation tab.
func (s *Service) LogCancellation(ctx context.Context, row booking.CancellationRow) error {
	return s.appendLogRow(ctx, cancellationSheet, []any{
		time.Now().Format("02.01.2006 15:04"),
		row.Date, row.FullDate, row.Clock,
		row.ClientID, row.ClientName, row.Service, row.Specialist,
	})
}

// LogTransfer appends one row to the transfer tab.
func (s *Service) LogTransfer(ctx context.Context, row booking.TransferRow) error {
	return s.appendLogRow(ctx, transferSheet, []any{
		time.Now().Format("02.01.2006 15:04"),
		row.OldDate, row.OldFullDate, row.OldClock,
		row.NewDate, row.NewClock,
		row.ClientID, row.ClientName, row.Service,
		row.OldSpecialist, row.NewSpecialist,
	})
}

// SaveFeedback appends a review row to the storage tab.
func (s *Service) SaveFeedback(ctx context.Context, clientID, clientName, clientPhone, text string) error {
	return s.appendLogRow(ctx, feedbackSheet, []any{
		time.Now().Format("02.01.2006 15:04"),
		clientID, clientName, clientPhone, text,
	})
}

// AppendReminder appends a booking row to the table an external automation
// polls for 24-hour reminders.
func (s *Service) AppendReminder(ctx context.Context, row booking.ReminderRow) error {
	return s.appendLogRow(ctx, reminderSheet, []any{
		row.Date, row.ClientID, row.MessengerClientID, row.Clock,
		row.ClientName, row.Service, row.Specialist,
	})
}

func (s *Service) appendLogRow(ctx context.Context, tab string, row []any) error {
	_, err := s.api.Spreadsheets.Values.
		Append(s.salon.LogsSpreadsheet, tab+"!A:A", &sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", tab, err)
	}
	return nil
}

func (s *Service) slotIndex(clock string) int {
	for i, slot := range s.grid {
		if slot == clock {
			return i
		}
	}
	return -1
}

// colLetter maps a 1-based schedule column (B = first slot) to its letter.
func colLetter(n int) string {
	// n counts slot columns; the sheet column is offset by one for the date.
	col := n + 1
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}
