// Package config holds everything the bot reads at startup: environment
// settings, the salon description (specialists, services, spreadsheets)
// and the prompt templates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings are the environment-driven knobs. Secrets never live in YAML.
type Settings struct {
	TelegramToken string

	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
	GeminiKey      string
	GeminiModel    string
	GrokKey        string
	GrokModel      string
	OllamaURL      string
	OllamaModel    string

	DefaultProvider string

	SendPulseURL   string
	SendPulseToken string

	AdminPort int
	AdminKeys []string

	DBPath          string
	SalonConfig     string
	PromptsFile     string
	CredentialsFile string
	DriveFolderID   string
}

// LoadSettings reads configuration from the environment, applying defaults
// for everything that has a sane one.
func LoadSettings() Settings {
	s := Settings{
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		AnthropicKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     envOr("GEMINI_MODEL", "gemini-1.5-pro-latest"),
		GrokKey:         os.Getenv("GROK_API_KEY"),
		GrokModel:       envOr("GROK_MODEL", "grok-beta"),
		OllamaURL:       os.Getenv("OLLAMA_URL"),
		OllamaModel:     envOr("OLLAMA_MODEL", "llama3"),
		DefaultProvider: envOr("DEFAULT_AI_PROVIDER", "claude"),
		SendPulseURL:    os.Getenv("SENDPULSE_API_URL"),
		SendPulseToken:  os.Getenv("SENDPULSE_API_TOKEN"),
		AdminPort:       envInt("ADMIN_PORT", 8013),
		DBPath:          envOr("DB_PATH", "./salonbot.db"),
		SalonConfig:     envOr("SALON_CONFIG", "salon.yml"),
		PromptsFile:     envOr("PROMPTS_FILE", "prompts.yml"),
		CredentialsFile: envOr("GOOGLE_CREDENTIALS", "credentials.json"),
		DriveFolderID:   os.Getenv("DRIVE_FOLDER_ID"),
	}
	if keys := os.Getenv("ADMIN_API_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				s.AdminKeys = append(s.AdminKeys, k)
			}
		}
	}
	return s
}

// Salon describes one salon project: who works there, what they do and
// where the schedule lives.
type Salon struct {
	ProjectID   string         `yaml:"project_id"`
	Specialists []string       `yaml:"specialists"`
	// Services maps a canonical service name to its length in 30-minute slots.
	Services map[string]int `yaml:"services"`

	ScheduleSpreadsheet string `yaml:"schedule_spreadsheet"`
	LogsSpreadsheet     string `yaml:"logs_spreadsheet"`

	DayStart string `yaml:"day_start"` // "10:00"
	DayEnd   string `yaml:"day_end"`   // "20:00"
}

// LoadSalon parses a salon YAML file.
func LoadSalon(path string) (*Salon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read salon config: %w", err)
	}
	var s Salon
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse salon config: %w", err)
	}
	if s.ProjectID == "" {
		return nil, fmt.Errorf("salon config: project_id is required")
	}
	if len(s.Specialists) == 0 {
		return nil, fmt.Errorf("salon config: at least one specialist is required")
	}
	if s.DayStart == "" {
		s.DayStart = "10:00"
	}
	if s.DayEnd == "" {
		s.DayEnd = "20:00"
	}
	return &s, nil
}

// HasSpecialist reports whether the named specialist works at this salon.
func (s *Salon) HasSpecialist(name string) bool {
	for _, sp := range s.Specialists {
		if sp == name {
			return true
		}
	}
	return false
}

// ServiceSlots returns the duration of a service in 30-minute slots.
func (s *Salon) ServiceSlots(name string) (int, bool) {
	n, ok := s.Services[name]
	return n, ok
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
