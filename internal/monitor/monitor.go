// Package monitor probes Anthropic model availability on a schedule and
// keeps an error log in its own SQLite database. It runs as a separate
// process from the bot.
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/ai"
)

// DefaultModels are the model IDs checked on every iteration.
var DefaultModels = []string{
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-sonnet-4-5-20250929",
}

const (
	DefaultInterval = 10 * time.Minute
	probePrompt     = "привіт"
	probePause      = 2 * time.Second
)

// Probe is one availability check. Only failed probes are persisted.
type Probe struct {
	Timestamp    time.Time
	Model        string
	StatusCode   int
	ResponseTime time.Duration
	RequestBody  string
	ResponseBody string
	ErrorMessage string
}

// Log is the monitor's SQLite error log.
type Log struct {
	db *sql.DB
}

func OpenLog(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			model TEXT NOT NULL,
			status_code INTEGER,
			response_time REAL,
			request_body TEXT,
			response_body TEXT,
			error_message TEXT
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init monitor log: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) Save(ctx context.Context, p Probe) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO logs (timestamp, model, status_code, response_time, request_body, response_body, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Timestamp.Format("2006-01-02 15:04:05"), p.Model, p.StatusCode,
		p.ResponseTime.Seconds(), p.RequestBody, p.ResponseBody, p.ErrorMessage)
	return err
}

// Recent returns the newest failures, up to limit.
func (l *Log) Recent(ctx context.Context, limit int) ([]Probe, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT timestamp, model, status_code, response_time,
			COALESCE(request_body,''), COALESCE(response_body,''), COALESCE(error_message,'')
		FROM logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Probe
	for rows.Next() {
		var p Probe
		var ts string
		var secs float64
		if err := rows.Scan(&ts, &p.Model, &p.StatusCode, &secs,
			&p.RequestBody, &p.ResponseBody, &p.ErrorMessage); err != nil {
			return nil, err
		}
		p.Timestamp, _ = time.Parse("2006-01-02 15:04:05", ts)
		p.ResponseTime = time.Duration(secs * float64(time.Second))
		out = append(out, p)
	}
	return out, rows.Err()
}

// ModelStats summarizes failures for one model.
type ModelStats struct {
	Model      string
	Total      int
	Overloads  int
	RateLimits int
	Recent     []Probe
}

func (l *Log) Stats(ctx context.Context, models []string) ([]ModelStats, error) {
	out := make([]ModelStats, 0, len(models))
	for _, model := range models {
		st := ModelStats{Model: model}
		row := l.db.QueryRowContext(ctx,
			`SELECT COUNT(*),
				COALESCE(SUM(CASE WHEN error_message LIKE '%overload%' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN status_code = 429 THEN 1 ELSE 0 END), 0)
			FROM logs WHERE model = ?`, model)
		if err := row.Scan(&st.Total, &st.Overloads, &st.RateLimits); err != nil {
			return nil, err
		}
		if st.Total > 0 {
			rows, err := l.db.QueryContext(ctx, `
				SELECT timestamp, status_code, COALESCE(error_message,'')
				FROM logs WHERE model = ? ORDER BY timestamp DESC LIMIT 3`, model)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var p Probe
				var ts string
				if err := rows.Scan(&ts, &p.StatusCode, &p.ErrorMessage); err != nil {
					rows.Close()
					return nil, err
				}
				p.Timestamp, _ = time.Parse("2006-01-02 15:04:05", ts)
				p.Model = model
				st.Recent = append(st.Recent, p)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// Monitor probes each model in turn and logs everything that is not a 200.
type Monitor struct {
	apiKey   string
	models   []string
	interval time.Duration
	errLog   *Log
	log      *zap.Logger
}

func New(apiKey string, models []string, interval time.Duration, errLog *Log, log *zap.Logger) *Monitor {
	if len(models) == 0 {
		models = DefaultModels
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		apiKey:   apiKey,
		models:   models,
		interval: interval,
		errLog:   errLog,
		log:      log.Named("monitor"),
	}
}

// Run loops until ctx is cancelled. The first iteration starts immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitoring started",
		zap.Int("models", len(m.models)),
		zap.Duration("interval", m.interval))

	for iteration := 1; ; iteration++ {
		m.log.Info("iteration", zap.Int("n", iteration))
		for _, model := range m.models {
			m.probe(ctx, model)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(probePause):
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}
}

func (m *Monitor) probe(ctx context.Context, model string) {
	cfg := ai.DefaultAnthropicConfig(m.apiKey)
	cfg.Model = model
	client := ai.NewAnthropicClientWithConfig(cfg, m.log)

	start := time.Now()
	comp, err := client.Complete(ctx, "", probePrompt, 10)
	elapsed := time.Since(start)

	if err == nil {
		m.log.Info("model ok",
			zap.String("model", model),
			zap.Duration("elapsed", elapsed),
			zap.String("response", comp.Text))
		return
	}

	p := Probe{
		Timestamp:    time.Now(),
		Model:        model,
		StatusCode:   ai.StatusCode(err),
		ResponseTime: elapsed,
		RequestBody:  probePrompt,
		ErrorMessage: err.Error(),
	}
	m.log.Warn("model check failed",
		zap.String("model", model),
		zap.Int("status", p.StatusCode),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))

	if saveErr := m.errLog.Save(ctx, p); saveErr != nil {
		m.log.Error("error log write failed", zap.Error(saveErr))
	}
}
