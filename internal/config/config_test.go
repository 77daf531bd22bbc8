package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSalon(t *testing.T) {
	path := writeTemp(t, "salon.yml", `
project_id: anna-paris
specialists:
  - Анна
  - Мария
services:
  Маникюр: 3
  Педикюр: 4
schedule_spreadsheet: sheet-id-1
logs_spreadsheet: sheet-id-2
day_start: "09:00"
day_end: "21:00"
`)
	s, err := LoadSalon(path)
	require.NoError(t, err)
	assert.Equal(t, "anna-paris", s.ProjectID)
	assert.Equal(t, []string{"Анна", "Мария"}, s.Specialists)
	assert.Equal(t, "09:00", s.DayStart)

	assert.True(t, s.HasSpecialist("Анна"))
	assert.False(t, s.HasSpecialist("Ольга"))

	n, ok := s.ServiceSlots("Педикюр")
	assert.True(t, ok)
	assert.Equal(t, 4, n)
	_, ok = s.ServiceSlots("Стрижка")
	assert.False(t, ok)
}

func TestLoadSalonDefaultsDayBounds(t *testing.T) {
	path := writeTemp(t, "salon.yml", `
project_id: anna-paris
specialists: [Анна]
`)
	s, err := LoadSalon(path)
	require.NoError(t, err)
	assert.Equal(t, "10:00", s.DayStart)
	assert.Equal(t, "20:00", s.DayEnd)
}

func TestLoadSalonValidation(t *testing.T) {
	_, err := LoadSalon(writeTemp(t, "salon.yml", "specialists: [Анна]"))
	assert.ErrorContains(t, err, "project_id")

	_, err = LoadSalon(writeTemp(t, "salon.yml", "project_id: x"))
	assert.ErrorContains(t, err, "specialist")

	_, err = LoadSalon(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadPrompts(t *testing.T) {
	path := writeTemp(t, "prompts.yml", `
intent_detection: "a"
service_identification: "b"
main_response: "c"
service_normalization: "d"
`)
	p, err := LoadPrompts(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "c", p.Get(PromptMainResponse))
	assert.Empty(t, p.Get("nonexistent"))
}

func TestLoadPromptsMissingTemplate(t *testing.T) {
	path := writeTemp(t, "prompts.yml", `intent_detection: "a"`)
	_, err := LoadPrompts(path, zap.NewNop())
	assert.ErrorContains(t, err, "service_identification")
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("ADMIN_PORT", "")
	t.Setenv("ADMIN_API_KEYS", "key1, key2,")
	t.Setenv("DEFAULT_AI_PROVIDER", "")

	s := LoadSettings()
	assert.Equal(t, 8013, s.AdminPort)
	assert.Equal(t, "claude", s.DefaultProvider)
	assert.Equal(t, []string{"key1", "key2"}, s.AdminKeys)
}
