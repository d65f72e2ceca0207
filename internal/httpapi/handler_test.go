package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldreport/internal/pool"
	"fieldreport/internal/reminder"
	"fieldreport/internal/render"
	"fieldreport/internal/storage"
	logx "fieldreport/pkg/logx"
)

type fakeRenderer struct{ calls int }

func (f *fakeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if strings.TrimSpace(html) == "" {
		return nil, render.ErrEmptyDocument
	}
	f.calls++
	return []byte("%PDF-1.4 fake"), nil
}

func (f *fakeRenderer) Stats() pool.Stats { return pool.Stats{Total: 3, Available: 3} }

type runningFlag bool

func (r runningFlag) Running() bool { return bool(r) }

type fixture struct {
	h     http.Handler
	store storage.Store
	conns *reminder.Connections
	pdf   *fakeRenderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory()
	if err := st.BindStaff(context.Background(), "budi", "1001"); err != nil {
		t.Fatalf("BindStaff: %v", err)
	}
	conns := reminder.NewConnections(st, 10*time.Minute, logx.Nop())
	svc := reminder.NewService(st, conns, logx.Nop(), reminder.WithLocation(time.Local))
	pdf := &fakeRenderer{}
	h := NewHandler(Deps{
		Reminders:   svc,
		Connections: conns,
		Renderer:    pdf,
		Scheduler:   runningFlag(true),
		Pinger:      st,
	}, logx.Nop())
	return &fixture{h: h.Routes(), store: st, conns: conns, pdf: pdf}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data  T      `json:"data"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env.Data
}

func TestCreateReminderStatuses(t *testing.T) {
	f := newFixture(t)
	detail := int64(7)
	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"created", map[string]any{"staffName": "budi", "message": "check site", "scheduledTime": "2026-03-01 09:00:00", "detailId": detail}, http.StatusCreated},
		{"detail already pending", map[string]any{"staffName": "budi", "message": "again", "scheduledTime": "2026-03-01 10:00:00", "detailId": detail}, http.StatusConflict},
		{"missing message", map[string]any{"staffName": "budi", "scheduledTime": "2026-03-01 09:00:00"}, http.StatusBadRequest},
		{"bad time", map[string]any{"staffName": "budi", "message": "m", "scheduledTime": "tomorrow"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"staffName": "budi", "message": "m", "scheduledTime": "2026-03-01 09:00:00", "chat": 1}, http.StatusBadRequest},
		{"unresolved staff", map[string]any{"staffName": "nobody", "message": "m", "scheduledTime": "2026-03-01 09:00:00"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/reminders", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestReminderReadUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/reminders", map[string]any{
		"staffName": "budi", "message": "bring forms", "scheduledTime": "2026-03-01 09:00:00", "detailId": 3,
	})
	created := decodeData[reminderDTO](t, rec)
	if created.ChatID != "1001" || created.Status != "pending" || created.ScheduledTime != "2026-03-01 09:00:00" {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(t, http.MethodGet, "/reminders/detail/3", nil)
	var detail detailResponse
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if !detail.HasReminder || detail.Data == nil || detail.Data.ID != created.ID {
		t.Fatalf("detail = %+v", detail)
	}
	rec = f.do(t, http.MethodGet, "/reminders/detail/4", nil)
	if !strings.Contains(rec.Body.String(), `"hasReminder":false`) {
		t.Fatalf("empty detail body = %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPut, "/reminders/1", map[string]any{"message": "bring two forms"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeData[reminderDTO](t, rec); got.Message != "bring two forms" {
		t.Fatalf("updated message = %q", got.Message)
	}

	rec = f.do(t, http.MethodGet, "/reminders?status=pending&staffName=budi", nil)
	if list := decodeData[[]reminderDTO](t, rec); len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if rec := f.do(t, http.MethodGet, "/reminders?status=lost", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}

	now := time.Now()
	if err := f.store.UpdateStatus(ctx, created.ID, reminder.StatusSent, &now, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if rec := f.do(t, http.MethodPut, "/reminders/1", map[string]any{"message": "late"}); rec.Code != http.StatusConflict {
		t.Fatalf("update sent = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/reminders/1", nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete sent = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/reminders/99", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/reminders/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("get bad id = %d", rec.Code)
	}
}

func TestDeletePendingReminder(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/reminders", map[string]any{
		"staffName": "budi", "message": "m", "scheduledTime": "2026-03-01 09:00:00",
	})
	if rec := f.do(t, http.MethodDelete, "/reminders/1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/reminders/1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
}

func TestVerifyConnectionBindsStaff(t *testing.T) {
	f := newFixture(t)
	code, err := f.conns.OnIncomingStart(context.Background(), "2002")
	if err != nil {
		t.Fatalf("OnIncomingStart: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/connections/verify", map[string]any{"staffName": "sari", "chatId": "2002", "code": "000000x"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"connected":false`) {
		t.Fatalf("wrong code = %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/connections/verify", map[string]any{"staffName": "sari", "chatId": "2002", "code": code})
	if !strings.Contains(rec.Body.String(), `"connected":true`) {
		t.Fatalf("verify = %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/connections/verify", map[string]any{"chatId": "2002", "code": code}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing staff = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/reminders", map[string]any{"staffName": "sari", "message": "m", "scheduledTime": "2026-03-01 09:00:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create for connected staff = %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRenderPDF(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/reports/pdf", map[string]any{"html": "<h1>Report</h1>", "filename": "../march"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="march.pdf"` {
		t.Fatalf("disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/reports/pdf", map[string]any{"html": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty html = %d", rec.Code)
	}

	noPDF := NewHandler(Deps{Reminders: reminder.NewService(f.store, f.conns, logx.Nop())}, logx.Nop()).Routes()
	req := httptest.NewRequest(http.MethodPost, "/reports/pdf", strings.NewReader(`{"html":"<p>x</p>"}`))
	rr := httptest.NewRecorder()
	noPDF.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled renderer = %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Scheduler || resp.Pool == nil || resp.Pool.Total != 3 || resp.Storage != "ok" {
		t.Fatalf("health = %+v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{reminder.ErrInvalidInput, http.StatusBadRequest},
		{reminder.ErrNotFound, http.StatusNotFound},
		{reminder.ErrNotPending, http.StatusConflict},
		{reminder.ErrDetailHasReminder, http.StatusConflict},
		{reminder.ErrRecipientUnresolved, http.StatusUnprocessableEntity},
		{pool.ErrEmpty, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
