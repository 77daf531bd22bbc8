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

// OllamaClient implements Client against a local Ollama server. It costs
// nothing to run, which makes it the provider of choice for development and
// for keeping the bot alive when every paid API is down.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewOllamaClient(baseURL, model string, log *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		log: log.Named("ollama"),
	}
}

func (c *OllamaClient) Provider() string { return ProviderOllama }
func (c *OllamaClient) Model() string    { return c.model }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		NumPredict int `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete sends one chat turn to the local model.
func (c *OllamaClient) Complete(ctx context.Context, system, user string, maxTokens int) (*Completion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	reqBody := ollamaRequest{
		Model:  c.model,
		Stream: false,
	}
	if system != "" {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: "user", Content: user})
	if maxTokens > 0 {
		reqBody.Options.NumPredict = maxTokens
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: connection failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "ollama", Code: resp.StatusCode, Body: string(body)}
	}

	var or ollamaResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("ollama: parse response: %w", err)
	}
	if or.Message.Content == "" {
		return nil, fmt.Errorf("ollama: no completion returned")
	}

	usage := Usage{InputTokens: or.PromptEvalCount, OutputTokens: or.EvalCount}
	c.log.Debug("completion",
		zap.String("model", c.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tokens", usage.Total()))

	return &Completion{
		Text:     strings.TrimSpace(or.Message.Content),
		Provider: ProviderOllama,
		Model:    c.model,
		Usage:    usage,
		Cost:     0, // local inference
	}, nil
}
