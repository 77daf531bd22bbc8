// Package booking turns the structured directives of a model reply into
// appointment rows and schedule updates.
package booking

import (
	"strings"
	"time"

	"github.com/annaparis/salonbot/internal/store"
)

// Client-facing layouts. The model speaks DD.MM.YYYY and HH:MM; the store
// keeps dates ISO so they sort.
const (
	HumanDateLayout = "02.01.2006"
	ShortDateLayout = "02.01"
	SlotMinutes     = 30
)

// ParseDate accepts DD.MM.YYYY or DD.MM, the latter resolved against the
// current year. The zero time is returned for anything else.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	switch strings.Count(s, ".") {
	case 2:
		t, err := time.Parse(HumanDateLayout, s)
		return t, err == nil
	case 1:
		t, err := time.Parse(HumanDateLayout, s+"."+time.Now().Format("2006"))
		return t, err == nil
	}
	return time.Time{}, false
}

// ParseClock accepts HH:MM.
func ParseClock(s string) (time.Time, bool) {
	t, err := time.Parse(store.ClockLayout, strings.TrimSpace(s))
	return t, err == nil
}

// StoreDate formats a date for booking rows.
func StoreDate(t time.Time) string { return t.Format(store.DateLayout) }

// HumanDate formats a date for client messages and sheet rows.
func HumanDate(t time.Time) string { return t.Format(HumanDateLayout) }

// SlotTimes expands a start clock into the HH:MM strings of each occupied
// 30-minute slot.
func SlotTimes(clock time.Time, slots int) []string {
	if slots < 1 {
		slots = 1
	}
	out := make([]string, slots)
	for i := range out {
		out[i] = clock.Add(time.Duration(i*SlotMinutes) * time.Minute).Format(store.ClockLayout)
	}
	return out
}

// slotsOverlap reports whether two slot runs starting at the given clocks
// share any 30-minute slot.
func slotsOverlap(aClock time.Time, aSlots int, bClock time.Time, bSlots int) bool {
	a := SlotTimes(aClock, aSlots)
	b := SlotTimes(bClock, bSlots)
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
