package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	l, err := OpenLog(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSaveAndRecent(t *testing.T) {
	l := testLog(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Save(ctx, Probe{
		Timestamp:    base,
		Model:        "claude-sonnet-4-20250514",
		StatusCode:   529,
		ResponseTime: 1200 * time.Millisecond,
		RequestBody:  "привіт",
		ErrorMessage: "anthropic: status 529: overloaded_error",
	}))
	require.NoError(t, l.Save(ctx, Probe{
		Timestamp:    base.Add(time.Minute),
		Model:        "claude-opus-4-20250514",
		StatusCode:   429,
		ErrorMessage: "anthropic: status 429: rate_limit_error",
	}))

	probes, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, probes, 2)
	// Newest first.
	assert.Equal(t, "claude-opus-4-20250514", probes[0].Model)
	assert.Equal(t, 429, probes[0].StatusCode)
	assert.Equal(t, "claude-sonnet-4-20250514", probes[1].Model)
	assert.Equal(t, 1200*time.Millisecond, probes[1].ResponseTime)
	assert.Equal(t, base, probes[1].Timestamp)

	limited, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecentEmpty(t *testing.T) {
	l := testLog(t)
	probes, err := l.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, probes)
}

func TestStats(t *testing.T) {
	l := testLog(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	sonnet := "claude-sonnet-4-20250514"
	for i := 0; i < 4; i++ {
		p := Probe{Timestamp: base.Add(time.Duration(i) * time.Minute), Model: sonnet}
		switch i {
		case 0, 1:
			p.StatusCode = 529
			p.ErrorMessage = "anthropic: status 529: overloaded_error"
		case 2:
			p.StatusCode = 429
			p.ErrorMessage = "anthropic: status 429: rate_limit_error"
		default:
			p.StatusCode = 500
			p.ErrorMessage = "anthropic: status 500: api_error"
		}
		require.NoError(t, l.Save(ctx, p))
	}

	stats, err := l.Stats(ctx, []string{sonnet, "claude-opus-4-20250514"})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, 4, stats[0].Total)
	assert.Equal(t, 2, stats[0].Overloads)
	assert.Equal(t, 1, stats[0].RateLimits)
	require.Len(t, stats[0].Recent, 3)
	assert.Equal(t, 500, stats[0].Recent[0].StatusCode)

	assert.Equal(t, 0, stats[1].Total)
	assert.Empty(t, stats[1].Recent)
}

func TestNewDefaults(t *testing.T) {
	m := New("key", nil, 0, nil, zap.NewNop())
	assert.Equal(t, DefaultModels, m.models)
	assert.Equal(t, DefaultInterval, m.interval)
}
