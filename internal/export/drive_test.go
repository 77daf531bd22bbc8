package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/store"
)

func TestRenderTranscript(t *testing.T) {
	history := []store.DialogueEntry{
		{Role: "user", Message: "хочу маникюр", Timestamp: time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC)},
		{Role: "assistant", Message: "На какое время?", Timestamp: time.Date(2026, 9, 14, 12, 1, 0, 0, time.UTC)},
	}
	info := booking.TranscriptInfo{
		Date:       "15.09.2026",
		Clock:      "14:00",
		Service:    "Маникюр",
		Specialist: "Анна",
	}
	got := renderTranscript("1001", "Ольга", info, history)

	assert.Contains(t, got, "Клиент: Ольга (1001)")
	assert.Contains(t, got, "Запись: 15.09.2026 14:00, Анна, Маникюр")
	assert.Contains(t, got, "[14.09 12:00] Клиент: хочу маникюр")
	assert.Contains(t, got, "[14.09 12:01] Бот: На какое время?")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "client", sanitize(""))
	assert.Equal(t, "Ольга_Петрова", sanitize("Ольга Петрова"))
	assert.Equal(t, "a_b_c", sanitize(`a/b:c`))
	assert.Equal(t, "Анна", sanitize("Анна"))
}
