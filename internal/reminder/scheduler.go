package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "fieldreport/pkg/logx"
)

type SchedulerConfig struct {
	PollEvery    time.Duration
	// PollSpec is a standard cron expression; when set it replaces PollEvery.
	PollSpec     string
	CleanupEvery time.Duration
	// IdleLogEvery throttles the "no due reminders" line.
	IdleLogEvery time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.PollEvery <= 0 {
		c.PollEvery = time.Minute
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = time.Hour
	}
	if c.IdleLogEvery <= 0 {
		c.IdleLogEvery = 10 * time.Minute
	}
	return c
}

// Scheduler owns the two periodic jobs: the reminder poll and the pending
// connection sweep. States: stopped -> running -> stopped.
type Scheduler struct {
	cfg   SchedulerConfig
	store Store
	disp  *Dispatcher
	conns *Connections
	gw    Gateway
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	running bool

	idleMu      sync.Mutex
	lastIdleLog time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(cfg SchedulerConfig, store Store, disp *Dispatcher, conns *Connections, gw Gateway, log logx.Logger, opts ...SchedulerOption) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:   cfg.withDefaults(),
		store: store,
		disp:  disp,
		conns: conns,
		gw:    gw,
		log:   log.With(logx.String("comp", "reminder.scheduler")),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the periodic jobs, then initializes the gateway with
// receiving enabled. Either failure is fatal and leaves the scheduler
// stopped; a registration failure never reaches the gateway. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Info("scheduler already running")
		return nil
	}

	// Jobs outlive the start context; Stop only prevents new ticks.
	jobCtx := context.WithoutCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	pollSpec := every(s.cfg.PollEvery)
	if s.cfg.PollSpec != "" {
		pollSpec = s.cfg.PollSpec
	}
	if _, err := c.AddFunc(pollSpec, func() { _, _ = s.PollOnce(jobCtx) }); err != nil {
		return fmt.Errorf("scheduler: register poll: %w", err)
	}
	if _, err := c.AddFunc(every(s.cfg.CleanupEvery), func() { _, _ = s.CleanupOnce(jobCtx) }); err != nil {
		return fmt.Errorf("scheduler: register cleanup: %w", err)
	}

	if err := s.gw.Init(ctx, true); err != nil {
		s.log.Error("scheduler not started: messaging gateway init failed", logx.Err(err))
		return fmt.Errorf("scheduler: gateway init: %w", err)
	}
	c.Start()
	s.c = c
	s.running = true
	s.log.Info("scheduler started", logx.String("poll", pollSpec), logx.Duration("cleanup_every", s.cfg.CleanupEvery))
	return nil
}

// Stop cancels both jobs and waits (bounded by ctx) for a running tick to
// finish. Stopping a stopped scheduler is safe.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	s.c = nil
	s.running = false
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for running tick")
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PollOnce runs one reminder tick: fetch due reminders and dispatch them
// sequentially in store order. It returns how many were dispatched.
func (s *Scheduler) PollOnce(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.log.Error("reminder poll failed", logx.Err(err))
		return 0, err
	}
	if len(due) == 0 {
		s.logIdle(now)
		return 0, nil
	}

	s.log.Info("dispatching due reminders", logx.Int("count", len(due)))
	n := 0
	for _, r := range due {
		if s.dispatchOne(ctx, r) {
			n++
		}
	}
	return n, nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, r Reminder) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("reminder dispatch panicked",
				logx.Int64("reminder_id", r.ID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			ok = false
		}
	}()
	if err := s.disp.Dispatch(ctx, r); err != nil {
		s.log.Error("reminder dispatch error", logx.Int64("reminder_id", r.ID), logx.Err(err))
		return false
	}
	return true
}

// CleanupOnce deletes expired pending connections.
func (s *Scheduler) CleanupOnce(ctx context.Context) (int64, error) {
	if s.conns == nil {
		return 0, nil
	}
	n, err := s.conns.CleanupExpired(ctx)
	if err != nil {
		s.log.Error("connection cleanup failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired connection codes removed", logx.Int64("count", n))
	}
	return n, nil
}

func (s *Scheduler) logIdle(now time.Time) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if !s.lastIdleLog.IsZero() && now.Sub(s.lastIdleLog) < s.cfg.IdleLogEvery {
		return
	}
	s.lastIdleLog = now
	s.log.Info("no due reminders")
}

func every(d time.Duration) string { return "@every " + d.String() }

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
