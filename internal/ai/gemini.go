package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Gemini Pro pricing, $ per million tokens.
const (
	geminiInputPerM  = 1.25
	geminiOutputPerM = 10.0
)

// GeminiClient implements Client over the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-1.5-pro-latest"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model, log: log.Named("gemini")}, nil
}

func (c *GeminiClient) Provider() string { return ProviderGemini }
func (c *GeminiClient) Model() string    { return c.model }

// Complete sends a prompt with a system instruction.
func (c *GeminiClient) Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error) {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	start := time.Now()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
		Temperature:       genai.Ptr[float32](0.7),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: no completion returned")
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	c.log.Debug("completion",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tokens", usage.Total()))

	return &Completion{
		Text:     text,
		Provider: ProviderGemini,
		Model:    c.model,
		Usage:    usage,
		Cost:     cost(usage, geminiInputPerM, geminiOutputPerM),
	}, nil
}
