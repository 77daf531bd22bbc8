package ai

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/config"
)

const testPromptsYAML = `intent_detection: "Определи, завершил ли клиент мысль."
service_identification: "Определи услугу и длительность."
main_response: "Сформируй ответ клиенту."
service_normalization: "Сопоставь услугу со словарём."
`

func testPrompts(t *testing.T) *config.Prompts {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yml")
	require.NoError(t, os.WriteFile(path, []byte(testPromptsYAML), 0o644))
	prompts, err := config.LoadPrompts(path, zap.NewNop())
	require.NoError(t, err)
	return prompts
}

func testPipeline(t *testing.T, client *fakeClient) *Pipeline {
	t.Helper()
	return NewPipeline(newTestRegistry(client), testPrompts(t), zap.NewNop())
}

func TestDetectIntent(t *testing.T) {
	p := testPipeline(t, &fakeClient{provider: ProviderClaude, text: `{"waiting": 0}`})
	res := p.DetectIntent(context.Background(), "m1", "28.08.2026", "Четверг", "", "", "хочу маникюр")
	assert.Equal(t, 0, res.Waiting)
}

func TestDetectIntentDefaultsOnGarbage(t *testing.T) {
	p := testPipeline(t, &fakeClient{provider: ProviderClaude, text: "подождите немного"})
	res := p.DetectIntent(context.Background(), "m1", "28.08.2026", "Четверг", "", "", "и")
	assert.Equal(t, 1, res.Waiting)
}

func TestDetectIntentDefaultsOnProviderError(t *testing.T) {
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		err:      &StatusError{Provider: "anthropic", Code: 529, Body: "overloaded"},
	})
	res := p.DetectIntent(context.Background(), "m1", "28.08.2026", "Четверг", "", "", "привет")
	assert.Equal(t, 1, res.Waiting)
}

func TestIdentifyService(t *testing.T) {
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		text:     "```json\n{\"time_fraction\": 3, \"service_name\": \"Маникюр\"}\n```",
	})
	services := map[string]int{"Маникюр": 3, "Педикюр": 4}
	res := p.IdentifyService(context.Background(), "m1", services, "", "запишите на маникюр")
	assert.Equal(t, 3, res.TimeFraction)
	assert.Equal(t, "Маникюр", res.ServiceName)
}

func TestIdentifyServiceFallback(t *testing.T) {
	p := testPipeline(t, &fakeClient{provider: ProviderClaude, text: "не могу определить"})
	res := p.IdentifyService(context.Background(), "m1", map[string]int{"Маникюр": 3}, "", "???")
	assert.Equal(t, 1, res.TimeFraction)
	assert.Equal(t, "unknown", res.ServiceName)
}

func TestIdentifyServiceClampsTimeFraction(t *testing.T) {
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		text:     `{"time_fraction": 0, "service_name": "Маникюр"}`,
	})
	res := p.IdentifyService(context.Background(), "m1", map[string]int{"Маникюр": 3}, "", "маникюр")
	assert.Equal(t, 1, res.TimeFraction)
}

func TestGenerateReply(t *testing.T) {
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		text: `{
			"gpt_response": "Записала вас на 14:00 к Анне.",
			"activate_booking": 1,
			"cosmetolog": "Анна",
			"date_order": "29.08.2026",
			"time_set_up": "14:00",
			"name": "Ольга",
			"phone": "+380501234567",
			"procedure": "Маникюр"
		}`,
	})
	reply := p.GenerateReply(context.Background(), "m1", []string{"Анна", "Мария"}, ReplyInput{
		CurrentDate:    "28.08.2026",
		DayOfWeek:      "Четверг",
		CurrentMessage: "давайте на 14:00 к Анне",
		AvailableSlots: map[string][]string{"Анна": {"14:00", "14:30"}},
	})
	assert.Equal(t, 1, reply.ActivateBooking)
	assert.Equal(t, "Анна", reply.Cosmetolog)
	assert.Equal(t, "14:00", reply.TimeSetUp)
}

func TestGenerateReplyFallbackOnError(t *testing.T) {
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		err:      &StatusError{Provider: "anthropic", Code: 500, Body: "boom"},
	})
	reply := p.GenerateReply(context.Background(), "m1", []string{"Анна"}, ReplyInput{})
	require.NotNil(t, reply)
	assert.Equal(t, FallbackReplyText, reply.GptResponse)
	assert.Zero(t, reply.ActivateBooking)
}

func TestGenerateReplyFallbackOnGarbage(t *testing.T) {
	p := testPipeline(t, &fakeClient{provider: ProviderClaude, text: "просто текст без JSON"})
	reply := p.GenerateReply(context.Background(), "m1", []string{"Анна"}, ReplyInput{})
	assert.Equal(t, FallbackReplyText, reply.GptResponse)
}

func TestNormalizeService(t *testing.T) {
	services := map[string]int{"Маникюр классический": 3}
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		text:     `{"service_name": "Маникюр классический"}`,
	})
	got := p.NormalizeService(context.Background(), "m1", "маникюрчик", services)
	assert.Equal(t, "Маникюр классический", got)
}

func TestNormalizeServiceUnknownAnswer(t *testing.T) {
	services := map[string]int{"Маникюр": 3}
	p := testPipeline(t, &fakeClient{
		provider: ProviderClaude,
		text:     `{"service_name": "Стрижка"}`,
	})
	assert.Empty(t, p.NormalizeService(context.Background(), "m1", "стрижка", services))
}

func TestMessageID(t *testing.T) {
	id := MessageID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, MessageID())
}
