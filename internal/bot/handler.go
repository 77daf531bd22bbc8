package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/delivery"
	"github.com/annaparis/salonbot/internal/store"
)

// historyLimit caps how much dialogue is fed back into the model.
const historyLimit = 30

type Bot struct {
	api      *tele.Bot
	db       *store.DB
	salon    *config.Salon
	pipeline *ai.Pipeline
	engine   *booking.Engine
	schedule booking.Schedule
	delivery *delivery.SendPulse
	log      *zap.Logger
	started  time.Time
}

type Config struct {
	Token string
}

func New(cfg Config, db *store.DB, salon *config.Salon, pipeline *ai.Pipeline, engine *booking.Engine, schedule booking.Schedule, sender *delivery.SendPulse, log *zap.Logger) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		api:      api,
		db:       db,
		salon:    salon,
		pipeline: pipeline,
		engine:   engine,
		schedule: schedule,
		delivery: sender,
		log:      log.Named("bot"),
		started:  time.Now(),
	}
	bot.register()
	return bot, nil
}

func (b *Bot) Start() {
	b.log.Info("bot started", zap.String("username", b.api.Me.Username))
	b.api.Start()
}

func (b *Bot) Stop() {
	b.api.Stop()
}

func (b *Bot) register() {
	b.api.Handle("/start", b.handleStart)
	b.api.Handle("/bookings", b.handleBookings)
	b.api.Handle("/feedback", b.handleFeedback)
	b.api.Handle("/status", b.handleStatus)

	// Every ordinary message goes through the dialogue pipeline.
	b.api.Handle(tele.OnText, b.handleText)
}

func (b *Bot) handleStart(c tele.Context) error {
	return c.Send(fmt.Sprintf(
		"Здравствуйте! Это салон красоты «Anna Paris». Напишите, на какую процедуру и когда вы хотели бы записаться.\nНаши мастера: %s",
		strings.Join(b.salon.Specialists, ", ")))
}

func (b *Bot) handleBookings(c tele.Context) error {
	return c.Send(b.engine.ClientBookingsString(context.Background(), senderID(c)))
}

func (b *Bot) handleFeedback(c tele.Context) error {
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Напишите отзыв после команды: /feedback ваш отзыв")
	}
	b.engine.SaveFeedback(context.Background(), &ai.Reply{Feedback: text}, senderID(c), ai.MessageID())
	return c.Send("Спасибо за отзыв! Мы обязательно его учтём.")
}

func (b *Bot) handleStatus(c tele.Context) error {
	stats, err := b.db.BookingStats(context.Background(), b.salon.ProjectID)
	if err != nil {
		return c.Send(fmt.Sprintf("Ошибка: %v", err))
	}
	return c.Send(fmt.Sprintf("Работаю %s. Записей всего: %d, активных: %d, отменённых: %d",
		time.Since(b.started).Round(time.Second), stats.Total, stats.Active, stats.Cancelled))
}

// Notify implements reminder.Notifier: a reminder goes straight to the
// client's Telegram chat.
func (b *Bot) Notify(ctx context.Context, clientID, text string) error {
	id, err := strconv.ParseInt(clientID, 10, 64)
	if err != nil {
		return fmt.Errorf("client id %q: %w", clientID, err)
	}
	_, err = b.api.Send(&tele.User{ID: id}, text)
	return err
}

func senderID(c tele.Context) string {
	return strconv.FormatInt(c.Sender().ID, 10)
}
