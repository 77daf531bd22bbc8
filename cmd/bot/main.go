package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/admin"
	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/bot"
	"github.com/annaparis/salonbot/internal/config"
	"github.com/annaparis/salonbot/internal/delivery"
	"github.com/annaparis/salonbot/internal/export"
	"github.com/annaparis/salonbot/internal/reminder"
	"github.com/annaparis/salonbot/internal/sheets"
	"github.com/annaparis/salonbot/internal/store"
)

func main() {
	logCfg := zap.NewProductionConfig()
	logCfg.Encoding = "console"
	log, err := logCfg.Build()
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer log.Sync()

	settings := config.LoadSettings()
	if settings.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}

	salon, err := config.LoadSalon(settings.SalonConfig)
	if err != nil {
		log.Fatal("salon config", zap.Error(err))
	}
	log.Info("salon loaded",
		zap.String("project", salon.ProjectID),
		zap.Strings("specialists", salon.Specialists),
		zap.Int("services", len(salon.Services)))

	db, err := store.Open(settings.DBPath)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	prompts, err := config.LoadPrompts(settings.PromptsFile, log)
	if err != nil {
		log.Fatal("prompts", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prompts reload live so the owner can tune them without a restart.
	go func() {
		if err := prompts.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Error("prompt watcher stopped", zap.Error(err))
		}
	}()

	schedule, err := sheets.New(ctx, settings.CredentialsFile, salon, log)
	if err != nil {
		log.Fatal("sheets", zap.Error(err))
	}

	exporter, err := export.New(ctx, settings.CredentialsFile, settings.DriveFolderID, salon.ProjectID, log)
	if err != nil {
		// Transcript export is a nice-to-have; the bot runs without it.
		log.Warn("drive exporter unavailable", zap.Error(err))
		exporter = nil
	}

	registry := ai.NewRegistry(settings.DefaultProvider, db, log)
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
		gemini, err := ai.NewGeminiClient(ctx, settings.GeminiKey, settings.GeminiModel, log)
		if err != nil {
			log.Warn("gemini client unavailable", zap.Error(err))
		} else {
			registry.Register(gemini)
		}
	}
	if len(registry.Available()) == 0 {
		log.Fatal("no AI provider configured, set at least one API key")
	}

	pipeline := ai.NewPipeline(registry, prompts, log)

	var transcript booking.TranscriptExporter
	if exporter != nil {
		transcript = exporter
	}
	engine := booking.NewEngine(db, salon, schedule, pipeline, transcript, log)

	sender := delivery.NewSendPulse(settings.SendPulseURL, settings.SendPulseToken, log)

	b, err := bot.New(bot.Config{Token: settings.TelegramToken},
		db, salon, pipeline, engine, schedule, sender, log)
	if err != nil {
		log.Fatal("bot init", zap.Error(err))
	}

	go reminder.New(db, salon.ProjectID, b, log).Run(ctx)

	adminSrv := admin.NewServer(settings.AdminPort, settings.AdminKeys, registry, db, salon, log)
	go func() {
		if err := adminSrv.Run(ctx); err != nil {
			log.Error("admin server", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	b.Start()
	log.Info("shutdown complete")
}
