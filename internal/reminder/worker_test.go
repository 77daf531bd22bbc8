package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[string]string
	fail  map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[string]string), fail: make(map[string]bool)}
}

func (f *fakeNotifier) Notify(ctx context.Context, clientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[clientID] {
		return errors.New("delivery failed")
	}
	f.sent[clientID] = text
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addBooking(t *testing.T, db *store.DB, clientID string, at time.Time) *store.Booking {
	t.Helper()
	b := &store.Booking{
		ProjectID:  "anna-paris",
		Specialist: "Анна",
		Date:       at.Format(store.DateLayout),
		Clock:      at.Format(store.ClockLayout),
		ClientID:   clientID,
		ClientName: "Ольга",
		Service:    "Маникюр",
	}
	require.NoError(t, db.CreateBooking(context.Background(), b))
	return b
}

func TestScanSendsAndMarks(t *testing.T) {
	db := testDB(t)
	notifier := newFakeNotifier()
	w := New(db, "anna-paris", notifier, zap.NewNop())

	tomorrow := time.Now().Add(24*time.Hour + 30*time.Minute)
	b := addBooking(t, db, "1001", tomorrow)
	addBooking(t, db, "1002", time.Now().Add(48*time.Hour))

	w.scan(context.Background())

	text, ok := notifier.sent["1001"]
	require.True(t, ok)
	assert.Contains(t, text, "Напоминаем")
	assert.Contains(t, text, "Анна")
	assert.NotContains(t, notifier.sent, "1002")

	// A second scan must not remind the same booking again.
	notifier.mu.Lock()
	delete(notifier.sent, "1001")
	notifier.mu.Unlock()
	w.scan(context.Background())
	assert.NotContains(t, notifier.sent, "1001")

	due, err := db.DueReminders(context.Background(), "anna-paris",
		time.Now().Add(24*time.Hour), time.Now().Add(25*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
	_ = b
}

func TestScanKeepsFailedDeliveryPending(t *testing.T) {
	db := testDB(t)
	notifier := newFakeNotifier()
	notifier.fail["1001"] = true
	w := New(db, "anna-paris", notifier, zap.NewNop())

	addBooking(t, db, "1001", time.Now().Add(24*time.Hour+30*time.Minute))
	w.scan(context.Background())

	due, err := db.DueReminders(context.Background(), "anna-paris",
		time.Now().Add(24*time.Hour), time.Now().Add(25*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	db := testDB(t)
	w := New(db, "anna-paris", newFakeNotifier(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestText(t *testing.T) {
	b := &store.Booking{
		Specialist: "Анна",
		Date:       "2026-09-15",
		Clock:      "14:00",
		Service:    "Маникюр",
	}
	got := Text(b)
	assert.Equal(t, "Напоминаем: завтра 15.09.2026 в 14:00 у вас запись к мастеру Анна (Маникюр). Ждём вас!", got)

	b.Service = ""
	assert.Equal(t, "Напоминаем: завтра 15.09.2026 в 14:00 у вас запись к мастеру Анна. Ждём вас!", Text(b))
}
