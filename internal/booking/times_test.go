package booking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("15.09.2026")
	require.True(t, ok)
	assert.Equal(t, "2026-09-15", StoreDate(d))
	assert.Equal(t, "15.09.2026", HumanDate(d))

	d, ok = ParseDate(" 01.12.2026 ")
	require.True(t, ok)
	assert.Equal(t, "2026-12-01", StoreDate(d))
}

func TestParseDateShortForm(t *testing.T) {
	d, ok := ParseDate("15.09")
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%d-09-15", time.Now().Year()), StoreDate(d))
}

func TestParseDateInvalid(t *testing.T) {
	for _, s := range []string{"", "завтра", "2026-09-15", "32.01.2026", "15/09/2026"} {
		_, ok := ParseDate(s)
		assert.False(t, ok, "input %q", s)
	}
}

func TestParseClock(t *testing.T) {
	c, ok := ParseClock("14:30")
	require.True(t, ok)
	assert.Equal(t, "14:30", c.Format("15:04"))

	_, ok = ParseClock("полдень")
	assert.False(t, ok)
	_, ok = ParseClock("25:00")
	assert.False(t, ok)
}

func TestSlotTimes(t *testing.T) {
	c, _ := ParseClock("14:00")
	assert.Equal(t, []string{"14:00", "14:30", "15:00"}, SlotTimes(c, 3))
	assert.Equal(t, []string{"14:00"}, SlotTimes(c, 0))
}

func TestSlotsOverlap(t *testing.T) {
	at := func(s string) time.Time {
		c, ok := ParseClock(s)
		require.True(t, ok)
		return c
	}
	assert.True(t, slotsOverlap(at("14:00"), 3, at("15:00"), 1))
	assert.True(t, slotsOverlap(at("14:00"), 1, at("14:00"), 1))
	assert.False(t, slotsOverlap(at("14:00"), 2, at("15:00"), 2))
	assert.False(t, slotsOverlap(at("10:00"), 1, at("10:30"), 1))
}
