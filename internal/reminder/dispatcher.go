package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldreport/internal/eventbus"
	logx "fieldreport/pkg/logx"
)

const (
	EventSent   = "reminder.sent"
	EventFailed = "reminder.failed"
)

// DispatcherConfig holds the delivery knobs. They can be swapped at runtime
// with Apply.
type DispatcherConfig struct {
	RetryAttempts    int
	RetryDelay       time.Duration
	DefaultRecipient string
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	c.DefaultRecipient = strings.TrimSpace(c.DefaultRecipient)
	return c
}

// Outcome is the payload of reminder.sent / reminder.failed events.
type Outcome struct {
	ReminderID int64     `json:"reminderId"`
	StaffName  string    `json:"staffName"`
	Address    string    `json:"address,omitempty"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Dispatcher delivers one reminder with bounded constant-backoff retries and
// records its terminal status. It does not re-read the stored status; callers
// only hand it due pending reminders.
type Dispatcher struct {
	mu  sync.RWMutex
	cfg DispatcherConfig

	store Store
	gw    Gateway
	bus   eventbus.Bus
	log   logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSleep replaces the backoff wait; tests use it to skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

func WithEvents(bus eventbus.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func NewDispatcher(cfg DispatcherConfig, store Store, gw Gateway, log logx.Logger, opts ...DispatcherOption) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		cfg:   cfg.withDefaults(),
		store: store,
		gw:    gw,
		log:   log.With(logx.String("comp", "reminder.dispatcher")),
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.log.Info("dispatcher config applied", logx.Int("retry_attempts", cfg.RetryAttempts), logx.Duration("retry_delay", cfg.RetryDelay))
}

func (d *Dispatcher) Config() DispatcherConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Dispatch delivers r and writes exactly one terminal status. The returned
// error reports a failed status write only; delivery failures are recorded
// on the reminder.
func (d *Dispatcher) Dispatch(ctx context.Context, r Reminder) error {
	cfg := d.Config()
	log := d.log.With(logx.Int64("reminder_id", r.ID), logx.String("staff", r.StaffName))

	addr := strings.TrimSpace(r.ChatID)
	if addr == "" {
		addr = cfg.DefaultRecipient
	}
	if addr == "" {
		msg := fmt.Sprintf("no recipient address for staff %q and no default recipient configured", r.StaffName)
		log.Warn("reminder has no recipient")
		return d.finish(ctx, log, r, "", StatusFailed, 0, msg)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		err := d.gw.Send(ctx, addr, r.Message)
		if err == nil {
			return d.finish(ctx, log, r, addr, StatusSent, attempt, "")
		}
		lastErr = err
		log.Warn("reminder delivery attempt failed",
			logx.Int("attempt", attempt),
			logx.Int("of", cfg.RetryAttempts),
			logx.Err(err),
		)
		if attempt < cfg.RetryAttempts && cfg.RetryDelay > 0 {
			if err := d.sleep(ctx, cfg.RetryDelay); err != nil {
				lastErr = fmt.Errorf("%v (backoff interrupted: %w)", lastErr, err)
				return d.finish(ctx, log, r, addr, StatusFailed, attempt, lastErr.Error())
			}
		}
	}
	return d.finish(ctx, log, r, addr, StatusFailed, cfg.RetryAttempts, lastErr.Error())
}

func (d *Dispatcher) finish(ctx context.Context, log logx.Logger, r Reminder, addr string, st Status, attempts int, errMsg string) error {
	at := d.now()
	var sentAt *time.Time
	if st == StatusSent {
		sentAt = &at
	}
	if err := d.store.UpdateStatus(ctx, r.ID, st, sentAt, errMsg); err != nil {
		log.Error("reminder status write failed", logx.String("status", string(st)), logx.Err(err))
		return fmt.Errorf("update reminder %d status: %w", r.ID, err)
	}

	if st == StatusSent {
		log.Info("reminder sent", logx.Int("attempts", attempts))
	} else {
		log.Error("reminder failed", logx.Int("attempts", attempts), logx.String("error", errMsg))
	}

	if d.bus != nil {
		typ := EventFailed
		if st == StatusSent {
			typ = EventSent
		}
		d.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: Outcome{
			ReminderID: r.ID,
			StaffName:  r.StaffName,
			Address:    addr,
			Status:     st,
			Attempts:   attempts,
			Error:      errMsg,
			At:         at,
		}})
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
