// Package reminder sends appointment reminders a day ahead of the visit.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/store"
)

// Notifier delivers one reminder text to a client.
type Notifier interface {
	Notify(ctx context.Context, clientID, text string) error
}

const (
	defaultInterval = 10 * time.Minute
	windowStart     = 24 * time.Hour
	windowEnd       = 25 * time.Hour
	sendWorkers     = 4
)

// Worker scans for bookings 24 hours out and notifies their clients. Each
// booking is reminded once; the window is an hour wide so a missed tick
// never skips anyone.
type Worker struct {
	db       *store.DB
	project  string
	notifier Notifier
	interval time.Duration
	log      *zap.Logger
}

func New(db *store.DB, project string, notifier Notifier, log *zap.Logger) *Worker {
	return &Worker{
		db:       db,
		project:  project,
		notifier: notifier,
		interval: defaultInterval,
		log:      log.Named("reminder"),
	}
}

// Run blocks until ctx is cancelled, scanning on every tick.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("reminder worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("reminder worker stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Worker) scan(ctx context.Context) {
	now := time.Now()
	due, err := w.db.DueReminders(ctx, w.project, now.Add(windowStart), now.Add(windowEnd))
	if err != nil {
		w.log.Error("reminder scan failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	w.log.Info("reminders due", zap.Int("count", len(due)))

	jobs := make(chan *store.Booking, len(due))
	var wg sync.WaitGroup
	for i := 0; i < sendWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				w.send(ctx, b)
			}
		}()
	}
	for _, b := range due {
		jobs <- b
	}
	close(jobs)
	wg.Wait()
}

func (w *Worker) send(ctx context.Context, b *store.Booking) {
	log := w.log.With(zap.Int64("booking_id", b.ID), zap.String("client_id", b.ClientID))

	if err := w.notifier.Notify(ctx, b.ClientID, Text(b)); err != nil {
		log.Error("reminder delivery failed", zap.Error(err))
		return
	}
	if err := w.db.MarkReminded(ctx, b.ID); err != nil {
		log.Error("reminder flag update failed", zap.Error(err))
		return
	}
	log.Info("reminder sent")
}

// Text renders the reminder message for one booking.
func Text(b *store.Booking) string {
	date := b.Date
	if d, err := time.Parse(store.DateLayout, b.Date); err == nil {
		date = booking.HumanDate(d)
	}
	msg := fmt.Sprintf("Напоминаем: завтра %s в %s у вас запись к мастеру %s", date, b.Clock, b.Specialist)
	if b.Service != "" {
		msg += fmt.Sprintf(" (%s)", b.Service)
	}
	return msg + ". Ждём вас!"
}
