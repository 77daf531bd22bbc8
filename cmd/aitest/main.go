// Command aitest fires one test question at every configured AI provider
// and prints the answers with token and cost accounting. Run it after
// rotating API keys.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/config"
)

func main() {
	question := flag.String("q", "What is 2+2?", "test question")
	maxTokens := flag.Int("max-tokens", 50, "response token cap")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer log.Sync()

	settings := config.LoadSettings()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	registry := ai.NewRegistry(settings.DefaultProvider, nil, log)
	if settings.AnthropicKey != "" {
		cfg := ai.DefaultAnthropicConfig(settings.AnthropicKey)
		cfg.Model = settings.AnthropicModel
		registry.Register(ai.NewAnthropicClientWithConfig(cfg, log))
	}
	if settings.OpenAIKey != "" {
		cfg := ai.DefaultOpenAIConfig(settings.OpenAIKey)
		cfg.Model = settings.OpenAIModel
		registry.Register(ai.NewOpenAIClient(cfg, log))
	}
	if settings.GrokKey != "" {
		cfg := ai.DefaultGrokConfig(settings.GrokKey)
		cfg.Model = settings.GrokModel
		registry.Register(ai.NewOpenAIClient(cfg, log))
	}
	if settings.OllamaURL != "" {
		registry.Register(ai.NewOllamaClient(settings.OllamaURL, settings.OllamaModel, log))
	}
	if settings.GeminiKey != "" {
		if gemini, err := ai.NewGeminiClient(ctx, settings.GeminiKey, settings.GeminiModel, log); err == nil {
			registry.Register(gemini)
		} else {
			fmt.Printf("gemini: init failed: %v\n", err)
		}
	}
	if len(registry.Available()) == 0 {
		fmt.Println("no provider configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY or GROK_API_KEY")
		os.Exit(1)
	}

	results := registry.CompareAll(ctx,
		"You are a helpful assistant. Answer in one short sentence.", *question, *maxTokens)

	failed := false
	for _, name := range registry.Available() {
		res := results[name]
		if res.Err != "" {
			failed = true
			fmt.Printf("✗ %s: %s\n", name, res.Err)
			continue
		}
		fmt.Printf("✓ %s (%s): %s\n", name, res.Completion.Model, res.Completion.Text)
		fmt.Printf("  tokens: %d in / %d out, cost: $%.6f\n",
			res.Completion.Usage.InputTokens, res.Completion.Usage.OutputTokens, res.Completion.Cost)
	}
	if failed {
		os.Exit(1)
	}
}
