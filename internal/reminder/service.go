package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "fieldreport/pkg/logx"
)

// Service implements the reminder lifecycle requests: create, read, filter,
// update and delete. Status transitions belong to the Dispatcher.
type Service struct {
	store Store
	dir   Directory
	log   logx.Logger
	loc   *time.Location
	now   func() time.Time
}

type ServiceOption func(*Service)

// WithLocation sets the zone scheduled times are interpreted in. Default time.Local.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, dir Directory, log logx.Logger, opts ...ServiceOption) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		dir:   dir,
		log:   log.With(logx.String("comp", "reminder.service")),
		loc:   time.Local,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ParseTime parses a scheduled time in the service's zone.
func (s *Service) ParseTime(v string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(v), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: scheduledTime must match %q", ErrInvalidInput, TimeLayout)
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Reminder, error) {
	staff := strings.TrimSpace(in.StaffName)
	msg := strings.TrimSpace(in.Message)
	var missing []string
	if staff == "" {
		missing = append(missing, "staffName")
	}
	if msg == "" {
		missing = append(missing, "message")
	}
	if strings.TrimSpace(in.ScheduledTime) == "" {
		missing = append(missing, "scheduledTime")
	}
	if len(missing) > 0 {
		return Reminder{}, fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	at, err := s.ParseTime(in.ScheduledTime)
	if err != nil {
		return Reminder{}, err
	}

	if in.DetailID != nil {
		existing, err := s.store.ListReminders(ctx, Filter{Status: StatusPending, DetailID: in.DetailID})
		if err != nil {
			return Reminder{}, fmt.Errorf("check detail: %w", err)
		}
		if len(existing) > 0 {
			return Reminder{}, fmt.Errorf("detail %d: %w", *in.DetailID, ErrDetailHasReminder)
		}
	}

	addr, err := s.resolve(ctx, staff)
	if err != nil {
		return Reminder{}, err
	}

	r, err := s.store.CreateReminder(ctx, Reminder{
		StaffName:     staff,
		ChatID:        addr,
		Message:       msg,
		ScheduledTime: at,
		Status:        StatusPending,
		CreatedAt:     s.now(),
		DetailID:      in.DetailID,
	})
	if err != nil {
		return Reminder{}, err
	}
	s.log.Info("reminder created", logx.Int64("id", r.ID), logx.String("staff", staff), logx.String("at", at.Format(TimeLayout)))
	return r, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Reminder, error) {
	return s.store.GetReminder(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Reminder, error) {
	f.StaffName = strings.TrimSpace(f.StaffName)
	return s.store.ListReminders(ctx, f)
}

// ForDetail returns the reminder attached to a schedule-detail, preferring
// the pending one over older sent/failed rows.
func (s *Service) ForDetail(ctx context.Context, detailID int64) (Reminder, bool, error) {
	list, err := s.store.ListReminders(ctx, Filter{DetailID: &detailID})
	if err != nil {
		return Reminder{}, false, err
	}
	if len(list) == 0 {
		return Reminder{}, false, nil
	}
	for _, r := range list {
		if r.Status == StatusPending {
			return r, true, nil
		}
	}
	return list[len(list)-1], true, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Reminder, error) {
	cur, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return Reminder{}, err
	}
	if cur.Status != StatusPending {
		return Reminder{}, fmt.Errorf("reminder %d is %s: %w", id, cur.Status, ErrNotPending)
	}

	var p Patch
	if in.Message != nil {
		msg := strings.TrimSpace(*in.Message)
		if msg == "" {
			return Reminder{}, fmt.Errorf("%w: message must not be empty", ErrInvalidInput)
		}
		p.Message = &msg
	}
	if in.ScheduledTime != nil {
		at, err := s.ParseTime(*in.ScheduledTime)
		if err != nil {
			return Reminder{}, err
		}
		p.ScheduledTime = &at
	}
	if in.StaffName != nil {
		staff := strings.TrimSpace(*in.StaffName)
		if staff == "" {
			return Reminder{}, fmt.Errorf("%w: staffName must not be empty", ErrInvalidInput)
		}
		if staff != cur.StaffName {
			addr, err := s.resolve(ctx, staff)
			if err != nil {
				return Reminder{}, err
			}
			p.StaffName = &staff
			p.ChatID = &addr
		}
	}

	r, err := s.store.UpdateReminder(ctx, id, p)
	if err != nil {
		return Reminder{}, err
	}
	s.log.Info("reminder updated", logx.Int64("id", id))
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		return err
	}
	s.log.Info("reminder deleted", logx.Int64("id", id))
	return nil
}

func (s *Service) resolve(ctx context.Context, staff string) (string, error) {
	if s.dir == nil {
		return "", fmt.Errorf("%s: %w", staff, ErrRecipientUnresolved)
	}
	addr, ok, err := s.dir.Lookup(ctx, staff)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", staff, err)
	}
	if !ok || strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("%s: %w", staff, ErrRecipientUnresolved)
	}
	return addr, nil
}

// IsClientError reports whether err is a validation or state error the
// caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrDetailHasReminder) ||
		errors.Is(err, ErrRecipientUnresolved)
}
