package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Claude Sonnet pricing, $ per million tokens.
const (
	anthropicInputPerM  = 2.0
	anthropicOutputPerM = 8.0
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.anthropic.com/v1",
		Model:   "claude-sonnet-4-5-20250929",
		Timeout: 2 * time.Minute,
	}
}

// AnthropicClient implements Client for the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAnthropicClient creates an Anthropic client with default config.
func NewAnthropicClient(apiKey string, log *zap.Logger) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey), log)
}

// NewAnthropicClientWithConfig creates an Anthropic client with custom config.
func NewAnthropicClientWithConfig(cfg AnthropicConfig, log *zap.Logger) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log.Named("anthropic"),
	}
}

func (c *AnthropicClient) Provider() string { return ProviderClaude }
func (c *AnthropicClient) Model() string    { return c.model }

// SetModel changes the model used for completions.
func (c *AnthropicClient) SetModel(model string) { c.model = model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt with a system message.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	// Rate limiting
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	start := time.Now()
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

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
			lastErr = &StatusError{Provider: "anthropic", Code: resp.StatusCode, Body: string(body)}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Provider: "anthropic", Code: resp.StatusCode, Body: string(body)}
		}

		var ar anthropicResponse
		if err := json.Unmarshal(body, &ar); err != nil {
			return nil, fmt.Errorf("anthropic: parse response: %w", err)
		}
		if ar.Error != nil {
			return nil, fmt.Errorf("anthropic: API error: %s", ar.Error.Message)
		}
		if len(ar.Content) == 0 {
			return nil, fmt.Errorf("anthropic: no completion returned")
		}

		var sb strings.Builder
		for _, block := range ar.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		usage := Usage{InputTokens: ar.Usage.InputTokens, OutputTokens: ar.Usage.OutputTokens}
		c.log.Debug("completion",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("tokens", usage.Total()))

		return &Completion{
			Text:     strings.TrimSpace(sb.String()),
			Provider: ProviderClaude,
			Model:    c.model,
			Usage:    usage,
			Cost:     cost(usage, anthropicInputPerM, anthropicOutputPerM),
		}, nil
	}

	return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}
