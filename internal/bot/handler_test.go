package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/delivery"
	"github.com/annaparis/salonbot/internal/store"
)

// mockContext stands in for a Telegram update: it records what the handler
// sends back.
type mockContext struct {
	tele.Context
	senderID int64
	text     string
	payload  string
	sent     []interface{}
}

func (m *mockContext) Sender() *tele.User { return &tele.User{ID: m.senderID} }
func (m *mockContext) Text() string       { return m.text }

func (m *mockContext) Message() *tele.Message {
	return &tele.Message{Sender: &tele.User{ID: m.senderID}, Text: m.text, Payload: m.payload}
}

func (m *mockContext) Send(what interface{}, opts ...interface{}) error {
	m.sent = append(m.sent, what)
	return nil
}

// scriptClient feeds the pipeline a fixed response per stage, keyed by the
// prompt each stage uses. When retryReply is set it is returned instead of
// reply once the prompt carries a record_error, mimicking the model
// rewording after a failed directive.
type scriptClient struct {
	intent       string
	service      string
	reply        string
	retryReply   string
	replyPrompts []string
}

func (s *scriptClient) Complete(ctx context.Context, system, user string, maxTokens int) (*ai.Completion, error) {
	var text string
	switch maxTokens {
	case 1000:
		text = s.intent
	case 500:
		text = s.service
	default:
		text = s.reply
		s.replyPrompts = append(s.replyPrompts, user)
		if s.retryReply != "" && strings.Contains(user, "record_error:") {
			text = s.retryReply
		}
	}
	return &ai.Completion{Text: text, Provider: "claude"}, nil
}

func (s *scriptClient) Provider() string { return "claude" }
func (s *scriptClient) Model() string    { return "claude-sonnet-4-5-20250929" }

type openSchedule struct {
	available map[string][]string
	reserved  map[string][]string
	full      bool
}

func (o *openSchedule) IsSlotFree(ctx context.Context, specialist string, date, clock time.Time) (bool, error) {
	return !o.full, nil
}

func (o *openSchedule) DaySchedule(ctx context.Context, date time.Time, slots int) (map[string][]string, map[string][]string, error) {
	return o.available, o.reserved, nil
}

func (o *openSchedule) WriteBookingSlot(ctx context.Context, b *store.Booking) error { return nil }

func (o *openSchedule) ClearBookingSlot(ctx context.Context, specialist string, date, clock time.Time, slots int) error {
	return nil
}

func (o *openSchedule) LogCancellation(ctx context.Context, row booking.CancellationRow) error {
	return nil
}

func (o *openSchedule) LogTransfer(ctx context.Context, row booking.TransferRow) error { return nil }

func (o *openSchedule) SaveFeedback(ctx context.Context, clientID, clientName, clientPhone, text string) error {
	return nil
}

func (o *openSchedule) AppendReminder(ctx context.Context, row booking.ReminderRow) error { return nil }

const botTestPrompts = `intent_detection: "intent"
service_identification: "service"
main_response: "reply"
service_normalization: "normalize"
`

func testBot(t *testing.T, client ai.Client) *Bot {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	salon := &config.Salon{
		ProjectID:   "anna-paris",
		Specialists: []string{"Анна", "Мария"},
		Services:    map[string]int{"Маникюр": 3},
		DayStart:    "10:00",
		DayEnd:      "20:00",
	}

	promptsPath := filepath.Join(t.TempDir(), "prompts.yml")
	require.NoError(t, os.WriteFile(promptsPath, []byte(botTestPrompts), 0o644))
	prompts, err := config.LoadPrompts(promptsPath, zap.NewNop())
	require.NoError(t, err)

	registry := ai.NewRegistry("claude", nil, zap.NewNop())
	registry.Register(client)
	pipeline := ai.NewPipeline(registry, prompts, zap.NewNop())

	sched := &openSchedule{
		available: map[string][]string{"Анна": {"14:00", "14:30"}},
		reserved:  map[string][]string{},
	}
	engine := booking.NewEngine(db, salon, sched, nil, nil, zap.NewNop())

	return &Bot{
		db:       db,
		salon:    salon,
		pipeline: pipeline,
		engine:   engine,
		schedule: sched,
		delivery: delivery.NewSendPulse("", "", zap.NewNop()),
		log:      zap.NewNop(),
		started:  time.Now(),
	}
}

func TestFormatHistory(t *testing.T) {
	entries := []store.DialogueEntry{
		{Role: "user", Message: "хочу маникюр"},
		{Role: "assistant", Message: "На какое время?"},
		{Role: "user", Message: "на 14:00"},
	}
	got := FormatHistory(entries)
	assert.Equal(t, "Клиент: хочу маникюр\nАссистент: На какое время?\nКлиент: на 14:00", got)
	assert.Empty(t, FormatHistory(nil))
}

func TestHandleStart(t *testing.T) {
	b := testBot(t, &scriptClient{})
	c := &mockContext{senderID: 1001}

	require.NoError(t, b.handleStart(c))
	require.Len(t, c.sent, 1)
	greeting, ok := c.sent[0].(string)
	require.True(t, ok)
	assert.Contains(t, greeting, "Anna Paris")
	assert.Contains(t, greeting, "Анна, Мария")
}

func TestHandleBookings(t *testing.T) {
	b := testBot(t, &scriptClient{})
	ctx := context.Background()

	c := &mockContext{senderID: 1001}
	require.NoError(t, b.handleBookings(c))
	require.Len(t, c.sent, 1)
	assert.Equal(t, "У клиента нет активных записей", c.sent[0])

	require.NoError(t, b.db.CreateBooking(ctx, &store.Booking{
		ProjectID:  "anna-paris",
		Specialist: "Анна",
		Date:       "2026-09-15",
		Clock:      "14:00",
		ClientID:   "1001",
		Service:    "Маникюр",
	}))
	c = &mockContext{senderID: 1001}
	require.NoError(t, b.handleBookings(c))
	require.Len(t, c.sent, 1)
	assert.Contains(t, c.sent[0], "Анна - 15.09.2026 14:00")
}

func TestHandleFeedback(t *testing.T) {
	b := testBot(t, &scriptClient{})

	c := &mockContext{senderID: 1001, payload: "Все понравилось!"}
	require.NoError(t, b.handleFeedback(c))
	require.Len(t, c.sent, 1)
	assert.Contains(t, c.sent[0], "Спасибо за отзыв")

	// Without text the command explains itself instead of saving.
	c = &mockContext{senderID: 1001}
	require.NoError(t, b.handleFeedback(c))
	require.Len(t, c.sent, 1)
	assert.Contains(t, c.sent[0], "/feedback")
}

func TestHandleTextHoldsWhileComposing(t *testing.T) {
	b := testBot(t, &scriptClient{intent: `{"waiting": 0}`})
	c := &mockContext{senderID: 1001, text: "а можно"}

	require.NoError(t, b.handleText(c))
	assert.Empty(t, c.sent)

	// The message still lands in the dialogue log.
	hist, err := b.db.DialogueHistory(context.Background(), "anna-paris", "1001", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "а можно", hist[0].Message)
}

func TestHandleTextPlainReply(t *testing.T) {
	b := testBot(t, &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 3, "service_name": "Маникюр"}`,
		reply:   `{"gpt_response": "Есть время в 14:00 и 14:30 у Анны."}`,
	})
	c := &mockContext{senderID: 1001, text: "хочу маникюр завтра"}

	require.NoError(t, b.handleText(c))
	require.Len(t, c.sent, 1)
	assert.Equal(t, "Есть время в 14:00 и 14:30 у Анны.", c.sent[0])

	hist, err := b.db.DialogueHistory(context.Background(), "anna-paris", "1001", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "user", hist[0].Role)
	assert.True(t, hist[0].IsFirstMessage)
	assert.Equal(t, "assistant", hist[1].Role)
}

func TestHandleTextActivatesBooking(t *testing.T) {
	b := testBot(t, &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 3, "service_name": "Маникюр"}`,
		reply: `{
			"gpt_response": "Записала вас к Анне на 15.09.2026 в 14:00!",
			"activate_booking": 1,
			"cosmetolog": "Анна",
			"date_order": "15.09.2026",
			"time_set_up": "14:00",
			"name": "Ольга",
			"procedure": "Маникюр"
		}`,
	})
	c := &mockContext{senderID: 1001, text: "да, давайте на 14:00"}

	require.NoError(t, b.handleText(c))
	require.Len(t, c.sent, 1)

	booked, err := b.db.FindActiveBooking(context.Background(), "anna-paris", "1001", store.BookingQuery{})
	require.NoError(t, err)
	require.NotNil(t, booked)
	assert.Equal(t, "Анна", booked.Specialist)
	assert.Equal(t, "2026-09-15", booked.Date)
	assert.Equal(t, "14:00", booked.Clock)
	assert.Equal(t, "Ольга", booked.ClientName)
}

func TestHandleTextReofferAfterTakenSlot(t *testing.T) {
	client := &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 3, "service_name": "Маникюр"}`,
		reply: `{
			"gpt_response": "Записала вас к Анне на 15.09.2026 в 14:00!",
			"activate_booking": 1,
			"cosmetolog": "Анна",
			"date_order": "15.09.2026",
			"time_set_up": "14:00",
			"name": "Ольга",
			"procedure": "Маникюр"
		}`,
		retryReply: `{"gpt_response": "К сожалению, это время уже занято. Могу предложить другой день."}`,
	}
	b := testBot(t, client)
	b.schedule.(*openSchedule).full = true
	c := &mockContext{senderID: 1001, text: "да, давайте на 14:00"}

	require.NoError(t, b.handleText(c))

	// No record was created, so the confirmation never reaches the client:
	// the failure is fed back and the reworded reply is sent instead.
	booked, err := b.db.FindActiveBooking(context.Background(), "anna-paris", "1001", store.BookingQuery{})
	require.NoError(t, err)
	assert.Nil(t, booked)

	require.Len(t, c.sent, 1)
	assert.Equal(t, "К сожалению, это время уже занято. Могу предложить другой день.", c.sent[0])

	require.Len(t, client.replyPrompts, 2)
	assert.Contains(t, client.replyPrompts[1], "record_error: Выбранное время уже занято")
}

func TestHandleTextNeverConfirmsFailedBooking(t *testing.T) {
	// The model insists on the same confirmation even after the failure is
	// fed back; the failure text wins over the phantom confirmation.
	b := testBot(t, &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 3, "service_name": "Маникюр"}`,
		reply: `{
			"gpt_response": "Записала вас к Анне на 15.09.2026 в 14:00!",
			"activate_booking": 1,
			"cosmetolog": "Анна",
			"date_order": "15.09.2026",
			"time_set_up": "14:00",
			"name": "Ольга",
			"procedure": "Маникюр"
		}`,
	})
	b.schedule.(*openSchedule).full = true
	c := &mockContext{senderID: 1001, text: "да, давайте на 14:00"}

	require.NoError(t, b.handleText(c))

	booked, err := b.db.FindActiveBooking(context.Background(), "anna-paris", "1001", store.BookingQuery{})
	require.NoError(t, err)
	assert.Nil(t, booked)

	require.Len(t, c.sent, 1)
	assert.Equal(t, "Выбранное время уже занято", c.sent[0])
}

func TestHandleTextHistoryExcludesCurrentMessage(t *testing.T) {
	ctx := context.Background()
	client := &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 3, "service_name": "Маникюр"}`,
		reply:   `{"gpt_response": "Отлично, бронирую!"}`,
	}
	b := testBot(t, client)
	require.NoError(t, b.db.AppendDialogue(ctx, "anna-paris", "1001", "user", "хочу маникюр", true))
	require.NoError(t, b.db.AppendDialogue(ctx, "anna-paris", "1001", "assistant", "На какое время?", false))

	c := &mockContext{senderID: 1001, text: "на 14:00"}
	require.NoError(t, b.handleText(c))

	// The current message appears once, as current_message, not a second
	// time inside dialogue_history.
	require.Len(t, client.replyPrompts, 1)
	prompt := client.replyPrompts[0]
	assert.Contains(t, prompt, "current_message: на 14:00")
	assert.Contains(t, prompt, "Клиент: хочу маникюр")
	assert.Equal(t, 1, strings.Count(prompt, "на 14:00"))

	// It is still logged for the next turn.
	hist, err := b.db.DialogueHistory(ctx, "anna-paris", "1001", 0)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, "на 14:00", hist[2].Message)
}

func TestHandleTextFallbackOnGarbageReply(t *testing.T) {
	b := testBot(t, &scriptClient{
		intent:  `{"waiting": 1}`,
		service: `{"time_fraction": 1, "service_name": "unknown"}`,
		reply:   "это не JSON",
	})
	c := &mockContext{senderID: 1001, text: "привет"}

	require.NoError(t, b.handleText(c))
	require.Len(t, c.sent, 1)
	assert.Equal(t, ai.FallbackReplyText, c.sent[0])
}
