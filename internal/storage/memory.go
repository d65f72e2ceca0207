package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldreport/internal/reminder"
)

// memoryStore keeps everything in maps guarded by one mutex. It enforces the
// same constraints as the SQL schema.
type memoryStore struct {
	mu        sync.Mutex
	closed    bool
	seq       int64
	reminders map[int64]reminder.Reminder
	pending   map[string]reminder.PendingConnection
	staff     map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		reminders: map[int64]reminder.Reminder{},
		pending:   map[string]reminder.PendingConnection{},
		staff:     map[string]string{},
	}
}

func (m *memoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) CreateReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return reminder.Reminder{}, ErrClosed
	}
	if r.Status == "" {
		r.Status = reminder.StatusPending
	}
	if r.DetailID != nil && r.Status == reminder.StatusPending {
		for _, cur := range m.reminders {
			if cur.Status == reminder.StatusPending && cur.DetailID != nil && *cur.DetailID == *r.DetailID {
				return reminder.Reminder{}, fmt.Errorf("detail %d: %w", *r.DetailID, reminder.ErrDetailHasReminder)
			}
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.seq++
	r.ID = m.seq
	r = cloneReminder(r)
	m.reminders[r.ID] = r
	return cloneReminder(r), nil
}

func (m *memoryStore) GetReminder(ctx context.Context, id int64) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	return cloneReminder(r), nil
}

func (m *memoryStore) ListReminders(ctx context.Context, f reminder.Filter) ([]reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reminder.Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.StaffName != "" && r.StaffName != f.StaffName {
			continue
		}
		if f.DetailID != nil && (r.DetailID == nil || *r.DetailID != *f.DetailID) {
			continue
		}
		out = append(out, cloneReminder(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) DueReminders(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []reminder.Reminder
	for _, r := range m.reminders {
		if r.Status == reminder.StatusPending && !r.ScheduledTime.After(now) {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out, nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, id int64, status reminder.Status, sentAt *time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.pendingLocked(id)
	if err != nil {
		return err
	}
	r.Status = status
	r.SentAt = cloneTime(sentAt)
	r.ErrorMessage = errMsg
	m.reminders[id] = r
	return nil
}

func (m *memoryStore) UpdateReminder(ctx context.Context, id int64, p reminder.Patch) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.pendingLocked(id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if p.StaffName != nil {
		r.StaffName = *p.StaffName
	}
	if p.ChatID != nil {
		r.ChatID = *p.ChatID
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.ScheduledTime != nil {
		r.ScheduledTime = *p.ScheduledTime
	}
	m.reminders[id] = r
	return cloneReminder(r), nil
}

func (m *memoryStore) DeleteReminder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.pendingLocked(id); err != nil {
		return err
	}
	delete(m.reminders, id)
	return nil
}

func (m *memoryStore) pendingLocked(id int64) (reminder.Reminder, error) {
	r, ok := m.reminders[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	if r.Status != reminder.StatusPending {
		return reminder.Reminder{}, fmt.Errorf("reminder %d is %s: %w", id, r.Status, reminder.ErrNotPending)
	}
	return r, nil
}

func (m *memoryStore) PutPending(ctx context.Context, pc reminder.PendingConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[pc.ChatID] = pc
	return nil
}

func (m *memoryStore) GetPending(ctx context.Context, chatID string) (reminder.PendingConnection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pending[chatID]
	return pc, ok, nil
}

func (m *memoryStore) DeletePending(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, chatID)
	return nil
}

func (m *memoryStore) DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, pc := range m.pending {
		if pc.Expired(now) {
			delete(m.pending, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) BindStaff(ctx context.Context, staffName, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[staffName] = chatID
	return nil
}

func (m *memoryStore) LookupStaff(ctx context.Context, staffName string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.staff[staffName]
	return v, ok, nil
}

func cloneReminder(r reminder.Reminder) reminder.Reminder {
	r.SentAt = cloneTime(r.SentAt)
	if r.DetailID != nil {
		v := *r.DetailID
		r.DetailID = &v
	}
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
