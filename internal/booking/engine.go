package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/store"
)

// Schedule is the external schedule the salon actually runs on. The sheet
// is the primary source of truth for availability; the local database is a
// secondary mirror.
type Schedule interface {
	IsSlotFree(ctx context.Context, specialist string, date, clock time.Time) (bool, error)
	// DaySchedule returns the free and taken HH:MM slots per specialist for
	// one day, sized for appointments of the given slot count.
	DaySchedule(ctx context.Context, date time.Time, slots int) (available, reserved map[string][]string, err error)
	WriteBookingSlot(ctx context.Context, b *store.Booking) error
	ClearBookingSlot(ctx context.Context, specialist string, date, clock time.Time, slots int) error
	LogCancellation(ctx context.Context, row CancellationRow) error
	LogTransfer(ctx context.Context, row TransferRow) error
	SaveFeedback(ctx context.Context, clientID, clientName, clientPhone, text string) error
	AppendReminder(ctx context.Context, row ReminderRow) error
}

// CancellationRow is one line of the cancellation log sheet.
type CancellationRow struct {
	Date       string // DD.MM
	FullDate   string // DD.MM.YYYY
	Clock      string
	ClientID   string
	ClientName string
	Service    string
	Specialist string
}

// TransferRow is one line of the transfer log sheet.
type TransferRow struct {
	OldDate       string // DD.MM
	OldFullDate   string // DD.MM.YYYY
	OldClock      string
	NewDate       string // DD.MM
	NewClock      string
	ClientID      string
	ClientName    string
	Service       string
	OldSpecialist string
	NewSpecialist string
}

// ReminderRow is one line of the reminder table an external automation
// polls for 24-hour reminders.
type ReminderRow struct {
	Date              string // DD.MM.YYYY
	ClientID          string // delivery contact id
	MessengerClientID string
	Clock             string
	ClientName        string
	Service           string
	Specialist        string
}

// ServiceNormalizer maps a free-form service name onto a dictionary key.
// *ai.Pipeline satisfies it.
type ServiceNormalizer interface {
	NormalizeService(ctx context.Context, msgID, rawService string, services map[string]int) string
}

// TranscriptExporter archives the dialogue that led to a booking.
type TranscriptExporter interface {
	SaveTranscript(ctx context.Context, clientID, clientName string, info TranscriptInfo, history []store.DialogueEntry) error
}

// TranscriptInfo labels an exported transcript with the booking it produced.
type TranscriptInfo struct {
	Date       string // DD.MM.YYYY
	Clock      string
	Service    string
	Specialist string
}

// Result is the outcome of one booking directive. RecordError, when set, is
// fed back into the next model turn so it can apologize and reoffer slots.
type Result struct {
	Success     bool
	Message     string
	Action      string
	RecordError string
	BookingIDs  []int64
}

// Engine executes booking directives against the database and the schedule.
type Engine struct {
	db         *store.DB
	salon      *config.Salon
	schedule   Schedule
	normalizer ServiceNormalizer
	exporter   TranscriptExporter
	log        *zap.Logger
}

func NewEngine(db *store.DB, salon *config.Salon, schedule Schedule, normalizer ServiceNormalizer, exporter TranscriptExporter, log *zap.Logger) *Engine {
	return &Engine{
		db:         db,
		salon:      salon,
		schedule:   schedule,
		normalizer: normalizer,
		exporter:   exporter,
		log:        log.Named("booking"),
	}
}

// ProcessAction dispatches on the reply's booking flags. A reply with no
// flags set is a plain conversational turn and succeeds with action "none".
func (e *Engine) ProcessAction(ctx context.Context, reply *ai.Reply, clientID, msgID, contactID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	switch {
	case reply.ActivateBooking != 0:
		var res Result
		if reply.DoubleBooking != 0 && len(reply.SpecialistsList) > 0 {
			log.Info("activating double booking")
			res = e.activateDouble(ctx, reply, clientID, msgID, contactID)
		} else {
			log.Info("activating booking")
			res = e.activateSingle(ctx, reply, clientID, msgID, contactID)
		}
		res.Action = "activate"
		return res

	case reply.RejectOrder != 0:
		var res Result
		if reply.DoubleBooking != 0 && len(reply.SpecialistsList) > 0 {
			log.Info("cancelling double booking")
			res = e.rejectDouble(ctx, reply, clientID, msgID)
		} else {
			log.Info("cancelling booking")
			res = e.rejectSingle(ctx, reply, clientID, msgID)
		}
		res.Action = "reject"
		return res

	case reply.ChangeOrder != 0:
		var res Result
		if reply.DoubleBooking != 0 && len(reply.SpecialistsList) > 0 {
			log.Info("transferring double booking")
			res = e.changeDouble(ctx, reply, clientID, msgID)
		} else {
			log.Info("transferring booking")
			res = e.changeSingle(ctx, reply, clientID, msgID)
		}
		res.Action = "change"
		return res
	}

	return Result{Success: true, Action: "none"}
}

func (e *Engine) activateSingle(ctx context.Context, reply *ai.Reply, clientID, msgID, contactID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if reply.Cosmetolog == "" || reply.DateOrder == "" || reply.TimeSetUp == "" {
		log.Warn("missing booking fields",
			zap.String("specialist", reply.Cosmetolog),
			zap.String("date", reply.DateOrder),
			zap.String("time", reply.TimeSetUp))
		return Result{Message: "Недостаточно данных для создания записи"}
	}

	date, ok := ParseDate(reply.DateOrder)
	if !ok {
		return Result{Message: fmt.Sprintf("Неверный формат даты: %s", reply.DateOrder)}
	}
	clock, ok := ParseClock(reply.TimeSetUp)
	if !ok {
		return Result{Message: fmt.Sprintf("Неверный формат времени: %s", reply.TimeSetUp)}
	}
	if !e.salon.HasSpecialist(reply.Cosmetolog) {
		log.Warn("unknown specialist", zap.String("specialist", reply.Cosmetolog))
		return Result{Message: fmt.Sprintf("Специалист %s не найден", reply.Cosmetolog)}
	}

	service, slots := e.resolveService(ctx, reply.Procedure, msgID)

	// The sheet is checked first: it is the source the salon staff edit.
	free, err := e.schedule.IsSlotFree(ctx, reply.Cosmetolog, date, clock)
	if err != nil {
		log.Error("availability check failed", zap.Error(err))
		return Result{Message: "Ошибка проверки доступности времени"}
	}
	if !free {
		log.Warn("slot taken in schedule",
			zap.String("specialist", reply.Cosmetolog),
			zap.String("date", HumanDate(date)),
			zap.String("time", reply.TimeSetUp))
		return Result{Message: "Выбранное время уже занято"}
	}

	if !e.dbSlotFree(ctx, reply.Cosmetolog, date, clock, slots, 0) {
		// The sheet wins over the database mirror.
		log.Info("database shows a conflict, schedule is primary, continuing")
	}

	// Re-read the day right before writing: another client may have taken
	// the slot while this dialogue was in flight.
	_, reserved, err := e.schedule.DaySchedule(ctx, date, slots)
	if err != nil {
		log.Error("final availability check failed", zap.Error(err))
		return Result{Message: "Ошибка проверки доступности", RecordError: "Ошибка проверки доступности"}
	}
	for _, slot := range SlotTimes(clock, slots) {
		for _, taken := range reserved[reply.Cosmetolog] {
			if slot == taken {
				log.Error("slot became occupied during booking", zap.String("slot", slot))
				return Result{Message: "ОШИБКА! СЛОТ ОКАЗАЛСЯ ЗАНЯТ", RecordError: "ОШИБКА! СЛОТ ОКАЗАЛСЯ ЗАНЯТ"}
			}
		}
	}

	b := &store.Booking{
		ProjectID:   e.salon.ProjectID,
		Specialist:  reply.Cosmetolog,
		Date:        StoreDate(date),
		Clock:       clock.Format(store.ClockLayout),
		ClientID:    clientID,
		ClientName:  reply.Name,
		ClientPhone: reply.Phone,
		Service:     service,
		DurationMin: slots * SlotMinutes,
	}
	if err := e.db.CreateBooking(ctx, b); err != nil {
		log.Error("booking insert failed", zap.Error(err))
		return Result{Message: fmt.Sprintf("Ошибка при создании записи: %v", err)}
	}
	log.Info("booking created",
		zap.Int64("booking_id", b.ID),
		zap.String("specialist", b.Specialist),
		zap.String("service", service),
		zap.Int("slots", slots))

	e.exportTranscript(ctx, clientID, reply, date, clock, msgID)
	e.appendReminder(ctx, b, clientID, contactID, msgID)

	if err := e.schedule.WriteBookingSlot(ctx, b); err != nil {
		// The row exists; the mirror catches up on the next sync.
		log.Error("schedule slot write failed", zap.Error(err))
	}

	return Result{Success: true, BookingIDs: []int64{b.ID}}
}

func (e *Engine) activateDouble(ctx context.Context, reply *ai.Reply, clientID, msgID, contactID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if len(reply.SpecialistsList) < 2 {
		return Result{Message: "Недостаточно специалистов для двойной записи"}
	}
	date, ok := ParseDate(reply.DateOrder)
	if !ok {
		return Result{Message: fmt.Sprintf("Неверный формат даты: %s", reply.DateOrder)}
	}

	specialists := reply.SpecialistsList[:2]
	clocks := make([]time.Time, 2)
	if len(reply.TimesSetUpList) >= 2 {
		for i, s := range reply.TimesSetUpList[:2] {
			c, ok := ParseClock(s)
			if !ok {
				return Result{Message: fmt.Sprintf("Неверный формат времени: %s", s)}
			}
			clocks[i] = c
		}
	} else {
		c, ok := ParseClock(reply.TimeSetUp)
		if !ok {
			return Result{Message: fmt.Sprintf("Неверный формат времени: %s", reply.TimeSetUp)}
		}
		clocks[0], clocks[1] = c, c
		log.Warn("no per-specialist times, using one time for both", zap.String("time", reply.TimeSetUp))
	}

	procedures := []string{reply.Procedure, reply.Procedure}
	if len(reply.ProceduresList) >= 2 {
		procedures = reply.ProceduresList[:2]
	} else {
		log.Warn("no per-specialist procedures, using one procedure for both", zap.String("procedure", reply.Procedure))
	}

	var occupied []string
	for i, sp := range specialists {
		free, err := e.schedule.IsSlotFree(ctx, sp, date, clocks[i])
		if err != nil {
			log.Error("availability check failed", zap.String("specialist", sp), zap.Error(err))
			return Result{Message: "Ошибка проверки доступности времени"}
		}
		if !free {
			occupied = append(occupied, fmt.Sprintf("%s на %s", sp, clocks[i].Format(store.ClockLayout)))
		}
	}
	if len(occupied) > 0 {
		return Result{Message: fmt.Sprintf("Время занято: %s", strings.Join(occupied, ", "))}
	}

	var ids []int64
	bookings := make([]*store.Booking, 0, 2)
	for i, sp := range specialists {
		slots := 1
		if n, ok := e.salon.ServiceSlots(procedures[i]); ok {
			slots = n
		}
		b := &store.Booking{
			ProjectID:   e.salon.ProjectID,
			Specialist:  sp,
			Date:        StoreDate(date),
			Clock:       clocks[i].Format(store.ClockLayout),
			ClientID:    clientID,
			ClientName:  reply.Name,
			ClientPhone: reply.Phone,
			Service:     procedures[i],
			DurationMin: slots * SlotMinutes,
		}
		if err := e.db.CreateBooking(ctx, b); err != nil {
			log.Error("booking insert failed", zap.String("specialist", sp), zap.Error(err))
			return Result{Message: fmt.Sprintf("Ошибка при создании записи: %v", err)}
		}
		bookings = append(bookings, b)
		ids = append(ids, b.ID)
		log.Info("booking created",
			zap.Int64("booking_id", b.ID),
			zap.String("specialist", sp),
			zap.String("time", b.Clock),
			zap.String("service", procedures[i]))
	}

	for _, b := range bookings {
		if err := e.schedule.WriteBookingSlot(ctx, b); err != nil {
			log.Error("schedule slot write failed", zap.String("specialist", b.Specialist), zap.Error(err))
		}
		e.appendReminder(ctx, b, clientID, contactID, msgID)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Двойная запись создана: %s (%s в %s) + %s (%s в %s)",
			specialists[0], procedures[0], clocks[0].Format(store.ClockLayout),
			specialists[1], procedures[1], clocks[1].Format(store.ClockLayout)),
		BookingIDs: ids,
	}
}

func (e *Engine) rejectSingle(ctx context.Context, reply *ai.Reply, clientID, msgID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if reply.DateReject == "" || reply.TimeReject == "" {
		log.Warn("missing cancellation data",
			zap.String("date", reply.DateReject), zap.String("time", reply.TimeReject))
		return Result{Message: "Недостаточно данных для отмены записи"}
	}
	date, dateOK := ParseDate(reply.DateReject)
	clock, clockOK := ParseClock(reply.TimeReject)
	if !dateOK || !clockOK {
		return Result{Message: "Неверный формат даты или времени"}
	}

	b, err := e.db.FindActiveBooking(ctx, e.salon.ProjectID, clientID, store.BookingQuery{
		Date:  StoreDate(date),
		Clock: clock.Format(store.ClockLayout),
	})
	if err != nil {
		return Result{Message: fmt.Sprintf("Ошибка при отмене записи: %v", err)}
	}
	if b == nil {
		log.Warn("booking not found for cancellation")
		return Result{Message: "Запись для отмены не найдена"}
	}

	if err := e.db.CancelBooking(ctx, b.ID); err != nil {
		return Result{Message: fmt.Sprintf("Ошибка при отмене записи: %v", err)}
	}
	log.Info("booking cancelled", zap.Int64("booking_id", b.ID))

	e.clearAndLogCancellation(ctx, b, clientID, b.Service, msgID)

	return Result{
		Success: true,
		Message: fmt.Sprintf("Запись отменена: %s, %s %s", b.Specialist, HumanDate(date), b.Clock),
		BookingIDs: []int64{b.ID},
	}
}

func (e *Engine) rejectDouble(ctx context.Context, reply *ai.Reply, clientID, msgID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if len(reply.SpecialistsList) < 2 {
		return Result{Message: "Недостаточно специалистов для отмены двойной записи"}
	}
	date, ok := ParseDate(reply.DateReject)
	if !ok {
		return Result{Message: "Неверный формат даты"}
	}

	// Per-specialist times when the model gives them, otherwise any active
	// booking on that date qualifies.
	clocks := make([]string, 2)
	if len(reply.TimesRejectList) >= 2 {
		for i, s := range reply.TimesRejectList[:2] {
			c, ok := ParseClock(s)
			if !ok {
				return Result{Message: "Неверный формат даты или времени"}
			}
			clocks[i] = c.Format(store.ClockLayout)
		}
	} else {
		log.Info("no per-specialist times, cancelling any booking on date", zap.String("date", HumanDate(date)))
	}

	var cancelled []*store.Booking
	for i, sp := range reply.SpecialistsList[:2] {
		b, err := e.db.FindActiveBooking(ctx, e.salon.ProjectID, clientID, store.BookingQuery{
			Specialist: sp,
			Date:       StoreDate(date),
			Clock:      clocks[i],
		})
		if err != nil || b == nil {
			continue
		}
		if err := e.db.CancelBooking(ctx, b.ID); err != nil {
			log.Error("cancel failed", zap.Int64("booking_id", b.ID), zap.Error(err))
			continue
		}
		cancelled = append(cancelled, b)
		e.clearAndLogCancellation(ctx, b, clientID, b.Service+" (двойная запись)", msgID)
	}

	if len(cancelled) == 0 {
		return Result{Message: fmt.Sprintf("Записи не найдены для отмены на %s", HumanDate(date))}
	}

	details := make([]string, len(cancelled))
	ids := make([]int64, len(cancelled))
	for i, b := range cancelled {
		details[i] = fmt.Sprintf("%s в %s", b.Specialist, b.Clock)
		ids[i] = b.ID
	}
	return Result{
		Success:    true,
		Message:    fmt.Sprintf("Двойная запись отменена: %s", strings.Join(details, " + ")),
		BookingIDs: ids,
	}
}

func (e *Engine) changeSingle(ctx context.Context, reply *ai.Reply, clientID, msgID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if reply.DateReject == "" || reply.TimeReject == "" {
		return Result{Message: "Недостаточно данных для поиска старой записи"}
	}
	if reply.DateOrder == "" || reply.TimeSetUp == "" {
		return Result{Message: "Недостаточно данных для новой записи"}
	}

	oldDate, oldDateOK := ParseDate(reply.DateReject)
	oldClock, oldClockOK := ParseClock(reply.TimeReject)
	if !oldDateOK || !oldClockOK {
		return Result{Message: "Неверный формат старой даты или времени"}
	}
	newDate, newDateOK := ParseDate(reply.DateOrder)
	newClock, newClockOK := ParseClock(reply.TimeSetUp)
	if !newDateOK || !newClockOK {
		return Result{Message: "Неверный формат новой даты или времени"}
	}

	b, err := e.db.FindActiveBooking(ctx, e.salon.ProjectID, clientID, store.BookingQuery{
		Date:  StoreDate(oldDate),
		Clock: oldClock.Format(store.ClockLayout),
	})
	if err != nil {
		return Result{Message: fmt.Sprintf("Ошибка при переносе записи: %v", err)}
	}
	if b == nil {
		log.Warn("booking not found for transfer",
			zap.String("date", HumanDate(oldDate)), zap.String("time", reply.TimeReject))
		return Result{Message: "Запись для переноса не найдена"}
	}

	newSpecialist := reply.Cosmetolog
	if newSpecialist == "" {
		newSpecialist = b.Specialist
	}

	free, err := e.schedule.IsSlotFree(ctx, newSpecialist, newDate, newClock)
	if err != nil {
		log.Error("availability check failed", zap.Error(err))
		return Result{Message: "Ошибка проверки доступности нового времени"}
	}
	if !free {
		return Result{Message: "Новое время уже занято"}
	}

	oldSpecialist := b.Specialist
	oldSlots := b.Slots()
	oldService := b.Service

	if err := e.schedule.ClearBookingSlot(ctx, oldSpecialist, oldDate, oldClock, oldSlots); err != nil {
		log.Error("old slot clear failed", zap.Error(err))
	}

	b.Specialist = newSpecialist
	b.Date = StoreDate(newDate)
	b.Clock = newClock.Format(store.ClockLayout)
	if reply.Name != "" {
		b.ClientName = reply.Name
	}
	if reply.Procedure != "" {
		b.Service = reply.Procedure
	}
	if reply.Phone != "" {
		b.ClientPhone = reply.Phone
	}
	if err := e.db.UpdateBooking(ctx, b); err != nil {
		return Result{Message: fmt.Sprintf("Ошибка при переносе записи: %v", err)}
	}
	log.Info("booking transferred", zap.Int64("booking_id", b.ID),
		zap.String("to", fmt.Sprintf("%s %s %s", newSpecialist, b.Date, b.Clock)))

	if err := e.schedule.WriteBookingSlot(ctx, b); err != nil {
		log.Error("new slot write failed", zap.Error(err))
	}

	service := b.Service
	if service == "" {
		service = oldService
	}
	if service == "" {
		service = "Услуга"
	}
	name := b.ClientName
	if name == "" {
		name = "Клиент"
	}
	if err := e.schedule.LogTransfer(ctx, TransferRow{
		OldDate:       oldDate.Format(ShortDateLayout),
		OldFullDate:   HumanDate(oldDate),
		OldClock:      oldClock.Format(store.ClockLayout),
		NewDate:       newDate.Format(ShortDateLayout),
		NewClock:      b.Clock,
		ClientID:      clientID,
		ClientName:    name,
		Service:       service,
		OldSpecialist: oldSpecialist,
		NewSpecialist: newSpecialist,
	}); err != nil {
		log.Error("transfer log failed", zap.Error(err))
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Запись перенесена: %s, %s %s", newSpecialist, HumanDate(newDate), b.Clock),
		BookingIDs: []int64{b.ID},
	}
}

func (e *Engine) changeDouble(ctx context.Context, reply *ai.Reply, clientID, msgID string) Result {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if len(reply.SpecialistsList) < 2 {
		return Result{Message: "Недостаточно специалистов для переноса двойной записи"}
	}
	if reply.DateOrder == "" {
		return Result{Message: "Не указана новая дата для переноса"}
	}

	specialists := reply.SpecialistsList[:2]

	// The source date narrows the search; without it the latest active
	// booking per specialist is transferred.
	var sourceDate string
	if reply.DateReject != "" {
		d, ok := ParseDate(reply.DateReject)
		if !ok {
			return Result{Message: "Неверный формат даты"}
		}
		sourceDate = StoreDate(d)
		log.Info("transferring from date", zap.String("date", sourceDate))
	} else {
		log.Warn("no source date, transferring latest active bookings")
	}

	found := make([]*store.Booking, 2)
	var missing []string
	for i, sp := range specialists {
		b, err := e.db.FindActiveBooking(ctx, e.salon.ProjectID, clientID, store.BookingQuery{
			Specialist: sp,
			Date:       sourceDate,
			Latest:     sourceDate == "",
		})
		if err != nil || b == nil {
			label := "нет активных записей"
			if sourceDate != "" {
				d, _ := ParseDate(reply.DateReject)
				label = HumanDate(d)
			}
			missing = append(missing, fmt.Sprintf("%s (%s)", sp, label))
			continue
		}
		found[i] = b
	}
	if len(missing) > 0 {
		return Result{Message: fmt.Sprintf("Не найдены записи для переноса у: %s", strings.Join(missing, ", "))}
	}

	newDate, ok := ParseDate(reply.DateOrder)
	if !ok {
		return Result{Message: "Неверный формат новой даты"}
	}

	newClocks := make([]time.Time, 2)
	if len(reply.TimesSetUpList) >= 2 {
		for i, s := range reply.TimesSetUpList[:2] {
			c, ok := ParseClock(s)
			if !ok {
				return Result{Message: "Неверный формат новой даты или времени"}
			}
			newClocks[i] = c
		}
	} else {
		for i, b := range found {
			c, _ := ParseClock(b.Clock)
			newClocks[i] = c
		}
	}

	newProcedures := make([]string, 2)
	if len(reply.ProceduresList) >= 2 {
		copy(newProcedures, reply.ProceduresList[:2])
	} else {
		for i, b := range found {
			newProcedures[i] = b.Service
		}
	}

	var occupied []string
	for i, sp := range specialists {
		free, err := e.schedule.IsSlotFree(ctx, sp, newDate, newClocks[i])
		if err != nil {
			log.Error("availability check failed", zap.String("specialist", sp), zap.Error(err))
			return Result{Message: "Ошибка проверки доступности нового времени"}
		}
		if !free {
			occupied = append(occupied, fmt.Sprintf("%s на %s", sp, newClocks[i].Format(store.ClockLayout)))
		}
	}
	if len(occupied) > 0 {
		return Result{Message: fmt.Sprintf("Новое время занято: %s", strings.Join(occupied, ", "))}
	}

	type oldSlot struct {
		specialist string
		date       time.Time
		clock      time.Time
		slots      int
	}
	oldSlots := make([]oldSlot, 2)
	for i, b := range found {
		d, _ := time.Parse(store.DateLayout, b.Date)
		c, _ := ParseClock(b.Clock)
		oldSlots[i] = oldSlot{specialist: b.Specialist, date: d, clock: c, slots: b.Slots()}
	}

	for _, old := range oldSlots {
		if err := e.schedule.ClearBookingSlot(ctx, old.specialist, old.date, old.clock, old.slots); err != nil {
			log.Error("old slot clear failed", zap.String("specialist", old.specialist), zap.Error(err))
		}
	}

	ids := make([]int64, 2)
	details := make([]string, 2)
	for i, b := range found {
		b.Date = StoreDate(newDate)
		b.Clock = newClocks[i].Format(store.ClockLayout)
		b.Service = newProcedures[i]
		if reply.Name != "" {
			b.ClientName = reply.Name
		}
		if reply.Phone != "" {
			b.ClientPhone = reply.Phone
		}
		if n, ok := e.salon.ServiceSlots(newProcedures[i]); ok {
			b.DurationMin = n * SlotMinutes
		}
		if err := e.db.UpdateBooking(ctx, b); err != nil {
			return Result{Message: fmt.Sprintf("Ошибка при переносе двойной записи: %v", err)}
		}
		ids[i] = b.ID

		if err := e.schedule.WriteBookingSlot(ctx, b); err != nil {
			log.Error("new slot write failed", zap.String("specialist", b.Specialist), zap.Error(err))
		}

		name := b.ClientName
		if name == "" {
			name = "Клиент"
		}
		if err := e.schedule.LogTransfer(ctx, TransferRow{
			OldDate:       oldSlots[i].date.Format(ShortDateLayout),
			OldFullDate:   HumanDate(oldSlots[i].date),
			OldClock:      oldSlots[i].clock.Format(store.ClockLayout),
			NewDate:       newDate.Format(ShortDateLayout),
			NewClock:      b.Clock,
			ClientID:      clientID,
			ClientName:    name,
			Service:       b.Service,
			OldSpecialist: oldSlots[i].specialist,
			NewSpecialist: b.Specialist,
		}); err != nil {
			log.Error("transfer log failed", zap.Error(err))
		}

		details[i] = fmt.Sprintf("%s: %s→%s (%s)",
			b.Specialist, oldSlots[i].clock.Format(store.ClockLayout), b.Clock, b.Service)
	}

	return Result{
		Success:    true,
		Message:    fmt.Sprintf("Двойная запись перенесена: %s", strings.Join(details, " + ")),
		BookingIDs: ids,
	}
}

// SaveFeedback records a client review locally and on the logs sheet. Name
// and phone come from the reply when present, otherwise from the client's
// latest booking.
func (e *Engine) SaveFeedback(ctx context.Context, reply *ai.Reply, clientID, msgID string) {
	log := e.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	if err := e.db.SaveFeedback(ctx, e.salon.ProjectID, clientID, reply.Feedback); err != nil {
		log.Error("feedback save failed", zap.Error(err))
		return
	}
	log.Info("feedback saved")

	name, phone := reply.Name, reply.Phone
	if name == "" || phone == "" {
		if b, err := e.db.LatestClientBooking(ctx, e.salon.ProjectID, clientID); err == nil && b != nil {
			if name == "" {
				name = b.ClientName
			}
			if phone == "" {
				phone = b.ClientPhone
			}
		}
	}
	if err := e.schedule.SaveFeedback(ctx, clientID, name, phone, reply.Feedback); err != nil {
		log.Error("feedback sheet append failed", zap.Error(err))
	}
}

// ClientBookingsString formats the client's active bookings for the model
// prompt (rows_of_owner).
func (e *Engine) ClientBookingsString(ctx context.Context, clientID string) string {
	bookings, err := e.db.ActiveClientBookings(ctx, e.salon.ProjectID, clientID)
	if err != nil || len(bookings) == 0 {
		return "У клиента нет активных записей"
	}
	lines := make([]string, 0, len(bookings))
	for _, b := range bookings {
		d, _ := time.Parse(store.DateLayout, b.Date)
		line := fmt.Sprintf("%s - %s %s", b.Specialist, HumanDate(d), b.Clock)
		if b.Service != "" {
			line += fmt.Sprintf(" (%s)", b.Service)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// resolveService maps a procedure name to a dictionary key and duration,
// going through the normalizer when there is no direct match.
func (e *Engine) resolveService(ctx context.Context, procedure, msgID string) (string, int) {
	log := e.log.With(zap.String("message_id", msgID))

	if procedure == "" {
		log.Warn("no service specified, defaulting to one slot")
		return "", 1
	}
	if n, ok := e.salon.ServiceSlots(procedure); ok {
		log.Info("service matched", zap.String("service", procedure), zap.Int("slots", n))
		return procedure, n
	}
	if e.normalizer != nil {
		if normalized := e.normalizer.NormalizeService(ctx, msgID, procedure, e.salon.Services); normalized != "" {
			if n, ok := e.salon.ServiceSlots(normalized); ok {
				log.Info("service normalized",
					zap.String("from", procedure), zap.String("to", normalized), zap.Int("slots", n))
				return normalized, n
			}
		}
		log.Warn("service normalization failed, defaulting to one slot", zap.String("service", procedure))
	}
	return procedure, 1
}

// dbSlotFree checks the local mirror for overlapping active bookings.
func (e *Engine) dbSlotFree(ctx context.Context, specialist string, date, clock time.Time, slots int, excludeID int64) bool {
	existing, err := e.db.SpecialistDayBookings(ctx, e.salon.ProjectID, specialist, StoreDate(date))
	if err != nil {
		return true
	}
	for _, b := range existing {
		if b.ID == excludeID {
			continue
		}
		c, ok := ParseClock(b.Clock)
		if !ok {
			continue
		}
		if slotsOverlap(clock, slots, c, b.Slots()) {
			return false
		}
	}
	return true
}

func (e *Engine) clearAndLogCancellation(ctx context.Context, b *store.Booking, clientID, serviceLabel, msgID string) {
	log := e.log.With(zap.String("message_id", msgID))

	date, _ := time.Parse(store.DateLayout, b.Date)
	clock, _ := ParseClock(b.Clock)
	if err := e.schedule.ClearBookingSlot(ctx, b.Specialist, date, clock, b.Slots()); err != nil {
		log.Error("slot clear failed", zap.Error(err))
	}

	name := b.ClientName
	if name == "" {
		name = "Клиент"
	}
	if serviceLabel == "" {
		serviceLabel = "Услуга"
	}
	if err := e.schedule.LogCancellation(ctx, CancellationRow{
		Date:       date.Format(ShortDateLayout),
		FullDate:   HumanDate(date),
		Clock:      b.Clock,
		ClientID:   clientID,
		ClientName: name,
		Service:    serviceLabel,
		Specialist: b.Specialist,
	}); err != nil {
		log.Error("cancellation log failed", zap.Error(err))
	}
}

func (e *Engine) exportTranscript(ctx context.Context, clientID string, reply *ai.Reply, date, clock time.Time, msgID string) {
	if e.exporter == nil {
		return
	}
	log := e.log.With(zap.String("message_id", msgID))

	history, err := e.db.DialogueHistory(ctx, e.salon.ProjectID, clientID, 0)
	if err != nil {
		log.Error("dialogue history read failed", zap.Error(err))
		return
	}
	name := reply.Name
	if name == "" {
		name = "Клиент"
	}
	info := TranscriptInfo{
		Date:       HumanDate(date),
		Clock:      clock.Format(store.ClockLayout),
		Service:    reply.Procedure,
		Specialist: reply.Cosmetolog,
	}
	if err := e.exporter.SaveTranscript(ctx, clientID, name, info, history); err != nil {
		log.Error("transcript export failed", zap.Error(err))
		return
	}
	log.Info("transcript exported", zap.String("client_id", clientID))
}

func (e *Engine) appendReminder(ctx context.Context, b *store.Booking, clientID, contactID, msgID string) {
	log := e.log.With(zap.String("message_id", msgID))

	deliveryID := contactID
	if deliveryID == "" {
		deliveryID = clientID
	}
	date, _ := time.Parse(store.DateLayout, b.Date)
	name := b.ClientName
	if name == "" {
		name = "Клиент"
	}
	service := b.Service
	if service == "" {
		service = "Услуга"
	}
	if err := e.schedule.AppendReminder(ctx, ReminderRow{
		Date:              HumanDate(date),
		ClientID:          deliveryID,
		MessengerClientID: clientID,
		Clock:             b.Clock,
		ClientName:        name,
		Service:           service,
		Specialist:        b.Specialist,
	}); err != nil {
		log.Error("reminder row append failed", zap.Error(err))
		return
	}
	log.Info("reminder row appended", zap.Int64("booking_id", b.ID))
}
