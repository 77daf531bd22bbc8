// Command monitor probes Anthropic model availability on a schedule,
// independent of the bot process.
//
//	monitor         run the probe loop
//	monitor errors  print the newest failures
//	monitor stats   print failure counts per model
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/monitor"
)

func main() {
	logCfg := zap.NewProductionConfig()
	logCfg.Encoding = "console"
	log, err := logCfg.Build()
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer log.Sync()

	dbPath := os.Getenv("MONITOR_DB")
	if dbPath == "" {
		dbPath = "monitoring.db"
	}
	errLog, err := monitor.OpenLog(dbPath)
	if err != nil {
		log.Fatal("error log", zap.Error(err))
	}
	defer errLog.Close()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "errors":
			showErrors(errLog)
		case "stats":
			showStats(errLog)
		default:
			fmt.Println("usage: monitor [errors|stats]")
			os.Exit(2)
		}
		return
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal("ANTHROPIC_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := monitor.New(apiKey, monitor.DefaultModels, monitor.DefaultInterval, errLog, log)
	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("monitor", zap.Error(err))
	}
	log.Info("monitoring stopped")
}

func showErrors(errLog *monitor.Log) {
	probes, err := errLog.Recent(context.Background(), 50)
	if err != nil {
		stdlog.Fatalf("read errors: %v", err)
	}
	if len(probes) == 0 {
		fmt.Println("no failures recorded")
		return
	}
	fmt.Printf("latest failures (%d):\n", len(probes))
	for _, p := range probes {
		fmt.Printf("\n%s  %s\n", p.Timestamp.Format("2006-01-02 15:04:05"), p.Model)
		fmt.Printf("  status: %d, response time: %.2fs\n", p.StatusCode, p.ResponseTime.Seconds())
		fmt.Printf("  error: %s\n", p.ErrorMessage)
	}
}

func showStats(errLog *monitor.Log) {
	stats, err := errLog.Stats(context.Background(), monitor.DefaultModels)
	if err != nil {
		stdlog.Fatalf("read stats: %v", err)
	}
	for _, st := range stats {
		fmt.Printf("\n%s:\n", st.Model)
		fmt.Printf("  failures: %d\n", st.Total)
		fmt.Printf("  overloads: %d\n", st.Overloads)
		fmt.Printf("  rate limits (429): %d\n", st.RateLimits)
		for _, p := range st.Recent {
			msg := p.ErrorMessage
			if len(msg) > 60 {
				msg = msg[:60] + "..."
			}
			fmt.Printf("    - %s: %d - %s\n", p.Timestamp.Format("2006-01-02 15:04:05"), p.StatusCode, msg)
		}
	}
}
