package reminder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldreport/internal/reminder"
	"fieldreport/internal/storage"
	logx "fieldreport/pkg/logx"
)

type mapDirectory map[string]string

func (d mapDirectory) Lookup(ctx context.Context, staff string) (string, bool, error) {
	v, ok := d[staff]
	return v, ok, nil
}

func newService(t *testing.T) (*reminder.Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	dir := mapDirectory{"budi": "1001", "sari": "2002"}
	return reminder.NewService(st, dir, logx.Nop(), reminder.WithLocation(time.Local)), st
}

func ptr[T any](v T) *T { return &v }

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	cases := []struct {
		name string
		in   reminder.CreateInput
		want error
	}{
		{"missing staff", reminder.CreateInput{Message: "m", ScheduledTime: "2026-03-01 09:00:00"}, reminder.ErrInvalidInput},
		{"missing message", reminder.CreateInput{StaffName: "budi", ScheduledTime: "2026-03-01 09:00:00"}, reminder.ErrInvalidInput},
		{"bad time", reminder.CreateInput{StaffName: "budi", Message: "m", ScheduledTime: "2026-03-01T09:00:00Z"}, reminder.ErrInvalidInput},
		{"unknown staff", reminder.CreateInput{StaffName: "nobody", Message: "m", ScheduledTime: "2026-03-01 09:00:00"}, reminder.ErrRecipientUnresolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Create error = %v, want %v", err, tc.want)
			}
			if !reminder.IsClientError(err) {
				t.Fatalf("%v should be a client error", err)
			}
		})
	}
}

func TestCreateResolvesRecipient(t *testing.T) {
	svc, _ := newService(t)
	r, err := svc.Create(context.Background(), reminder.CreateInput{
		StaffName:     " budi ",
		Message:       "visit site B",
		ScheduledTime: "2026-03-01 09:30:00",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ChatID != "1001" || r.StaffName != "budi" || r.Status != reminder.StatusPending {
		t.Fatalf("unexpected reminder %+v", r)
	}
	if got := r.ScheduledTime.Format(reminder.TimeLayout); got != "2026-03-01 09:30:00" {
		t.Fatalf("scheduled = %s", got)
	}
}

func TestCreateOnePendingPerDetail(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	in := reminder.CreateInput{StaffName: "budi", Message: "m", ScheduledTime: "2026-03-01 09:00:00", DetailID: ptr(int64(5))}

	first, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := svc.Create(ctx, in); !errors.Is(err, reminder.ErrDetailHasReminder) {
		t.Fatalf("second Create error = %v, want ErrDetailHasReminder", err)
	}

	if err := st.UpdateStatus(ctx, first.ID, reminder.StatusFailed, nil, "x"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	second, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create after failed prior: %v", err)
	}

	got, ok, err := svc.ForDetail(ctx, 5)
	if err != nil || !ok || got.ID != second.ID {
		t.Fatalf("ForDetail = %+v, %v, %v; want pending reminder %d", got, ok, err, second.ID)
	}
	if _, ok, _ := svc.ForDetail(ctx, 99); ok {
		t.Fatal("unexpected reminder for unknown detail")
	}
}

func TestUpdateRules(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	r, _ := svc.Create(ctx, reminder.CreateInput{StaffName: "budi", Message: "m", ScheduledTime: "2026-03-01 09:00:00"})

	upd, err := svc.Update(ctx, r.ID, reminder.UpdateInput{
		StaffName:     ptr("sari"),
		ScheduledTime: ptr("2026-03-02 10:00:00"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.StaffName != "sari" || upd.ChatID != "2002" || upd.Message != "m" {
		t.Fatalf("unexpected update %+v", upd)
	}
	if _, err := svc.Update(ctx, r.ID, reminder.UpdateInput{StaffName: ptr("nobody")}); !errors.Is(err, reminder.ErrRecipientUnresolved) {
		t.Fatalf("unresolved update error = %v", err)
	}
	if _, err := svc.Update(ctx, r.ID, reminder.UpdateInput{Message: ptr("  ")}); !errors.Is(err, reminder.ErrInvalidInput) {
		t.Fatalf("empty message error = %v", err)
	}

	now := time.Now()
	_ = st.UpdateStatus(ctx, r.ID, reminder.StatusSent, &now, "")
	if _, err := svc.Update(ctx, r.ID, reminder.UpdateInput{Message: ptr("late")}); !errors.Is(err, reminder.ErrNotPending) {
		t.Fatalf("update sent error = %v, want ErrNotPending", err)
	}
	if err := svc.Delete(ctx, r.ID); !errors.Is(err, reminder.ErrNotPending) {
		t.Fatalf("delete sent error = %v, want ErrNotPending", err)
	}
	if _, err := svc.Get(ctx, 404); !errors.Is(err, reminder.ErrNotFound) {
		t.Fatalf("get missing error = %v", err)
	}
}
