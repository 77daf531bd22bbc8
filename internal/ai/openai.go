package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig holds configuration for any OpenAI-compatible endpoint.
// Grok reuses this client with the x.ai base URL.
type OpenAIConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	InputPerM  float64
	OutputPerM float64
}

// DefaultOpenAIConfig returns defaults for the OpenAI API.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider:   ProviderOpenAI,
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o",
		Timeout:    2 * time.Minute,
		InputPerM:  2.5,
		OutputPerM: 10.0,
	}
}

// DefaultGrokConfig returns defaults for the x.ai API, which speaks the
// OpenAI chat-completions dialect.
func DefaultGrokConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider:   ProviderGrok,
		APIKey:     apiKey,
		BaseURL:    "https://api.x.ai/v1",
		Model:      "grok-beta",
		Timeout:    2 * time.Minute,
		InputPerM:  3.0,
		OutputPerM: 15.0,
	}
}

// OpenAIClient implements Client for OpenAI-compatible chat completions.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewOpenAIClient creates a client for the given OpenAI-compatible config.
func NewOpenAIClient(cfg OpenAIConfig, log *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named(cfg.Provider),
	}
}

func (c *OpenAIClient) Provider() string { return c.cfg.Provider }
func (c *OpenAIClient) Model() string    { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt with a system message.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key not configured", c.cfg.Provider)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.cfg.Provider, err)
	}

	start := time.Now()
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", c.cfg.Provider, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &StatusError{Provider: c.cfg.Provider, Code: resp.StatusCode, Body: string(body)}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Provider: c.cfg.Provider, Code: resp.StatusCode, Body: string(body)}
		}

		var cr chatResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return nil, fmt.Errorf("%s: parse response: %w", c.cfg.Provider, err)
		}
		if cr.Error != nil {
			return nil, fmt.Errorf("%s: API error: %s", c.cfg.Provider, cr.Error.Message)
		}
		if len(cr.Choices) == 0 {
			return nil, fmt.Errorf("%s: no completion returned", c.cfg.Provider)
		}

		usage := Usage{InputTokens: cr.Usage.PromptTokens, OutputTokens: cr.Usage.CompletionTokens}
		c.log.Debug("completion",
			zap.String("model", c.cfg.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("tokens", usage.Total()))

		return &Completion{
			Text:     strings.TrimSpace(cr.Choices[0].Message.Content),
			Provider: c.cfg.Provider,
			Model:    c.cfg.Model,
			Usage:    usage,
			Cost:     cost(usage, c.cfg.InputPerM, c.cfg.OutputPerM),
		}, nil
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", c.cfg.Provider, lastErr)
}
