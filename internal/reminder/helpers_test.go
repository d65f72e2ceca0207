package reminder_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldreport/internal/reminder"
	"fieldreport/internal/storage"
)

// fakeGateway scripts Send results per call; calls beyond the script succeed.
type fakeGateway struct {
	mu      sync.Mutex
	initErr error
	inits   int
	script  []error
	panicOn map[string]bool
	sent    []sentMsg
}

type sentMsg struct{ addr, text string }

func (g *fakeGateway) Init(ctx context.Context, receive bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits++
	if !receive {
		return errors.New("receive must be enabled")
	}
	return g.initErr
}

func (g *fakeGateway) Send(ctx context.Context, addr, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicOn[text] {
		panic("gateway exploded")
	}
	g.sent = append(g.sent, sentMsg{addr: addr, text: text})
	i := len(g.sent) - 1
	if i < len(g.script) {
		return g.script[i]
	}
	return nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// countingStore records UpdateStatus calls per reminder.
type countingStore struct {
	storage.Store
	mu      sync.Mutex
	updates map[int64]int
	dueErr  error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewMemory(), updates: map[int64]int{}}
}

func (s *countingStore) UpdateStatus(ctx context.Context, id int64, st reminder.Status, sentAt *time.Time, errMsg string) error {
	s.mu.Lock()
	s.updates[id]++
	s.mu.Unlock()
	return s.Store.UpdateStatus(ctx, id, st, sentAt, errMsg)
}

func (s *countingStore) DueReminders(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	s.mu.Lock()
	err := s.dueErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.DueReminders(ctx, now)
}

func (s *countingStore) updatesFor(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[id]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func mustCreate(t *testing.T, st reminder.Store, r reminder.Reminder) reminder.Reminder {
	t.Helper()
	if r.Status == "" {
		r.Status = reminder.StatusPending
	}
	out, err := st.CreateReminder(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return out
}

func mustGet(t *testing.T, st reminder.Store, id int64) reminder.Reminder {
	t.Helper()
	r, err := st.GetReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReminder(%d): %v", id, err)
	}
	return r
}
