// Package httpapi exposes reminders, staff connections and PDF reports over
// a chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldreport/internal/pool"
	"fieldreport/internal/reminder"
	logx "fieldreport/pkg/logx"
)

// Reminders is the reminder use-case surface the API needs.
type Reminders interface {
	Create(ctx context.Context, in reminder.CreateInput) (reminder.Reminder, error)
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	List(ctx context.Context, f reminder.Filter) ([]reminder.Reminder, error)
	ForDetail(ctx context.Context, detailID int64) (reminder.Reminder, bool, error)
	Update(ctx context.Context, id int64, in reminder.UpdateInput) (reminder.Reminder, error)
	Delete(ctx context.Context, id int64) error
}

// Connector binds a staff name to a chat after a handshake code check.
type Connector interface {
	Connect(ctx context.Context, staffName, address, code string) (bool, error)
}

// PDFRenderer turns an HTML document into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
	Stats() pool.Stats
}

// Deps wires the handler. Renderer, Scheduler and Pinger may be nil.
type Deps struct {
	Reminders   Reminders
	Connections Connector
	Renderer    PDFRenderer
	Scheduler   interface{ Running() bool }
	Pinger      interface{ Ping(ctx context.Context) error }
	Pprof       bool
	// MaxBodyBytes caps request bodies; 0 means 2 MiB.
	MaxBodyBytes int64
}

type Handler struct {
	deps Deps
	log  logx.Logger
}

func NewHandler(deps Deps, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 2 << 20
	}
	return &Handler{deps: deps, log: log.With(logx.String("comp", "http"))}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/reminders", func(r chi.Router) {
		r.Post("/", h.createReminder)
		r.Get("/", h.listReminders)
		r.Get("/detail/{detailID}", h.reminderForDetail)
		r.Get("/{id}", h.getReminder)
		r.Put("/{id}", h.updateReminder)
		r.Delete("/{id}", h.deleteReminder)
	})
	r.Post("/connections/verify", h.verifyConnection)
	r.Post("/reports/pdf", h.renderPDF)

	if h.deps.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", reminder.ErrInvalidInput, name, raw)
	}
	return id, nil
}

func (h *Handler) createReminder(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	rem, err := h.deps.Reminders.Create(r.Context(), reminder.CreateInput{
		StaffName:     req.StaffName,
		Message:       req.Message,
		ScheduledTime: req.ScheduledTime,
		DetailID:      req.DetailID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toDTO(rem))
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f reminder.Filter
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st, ok := reminder.ParseStatus(s)
		if !ok {
			h.fail(w, r, fmt.Errorf("%w: unknown status %q", reminder.ErrInvalidInput, s))
			return
		}
		f.Status = st
	}
	f.StaffName = strings.TrimSpace(q.Get("staffName"))
	if s := strings.TrimSpace(q.Get("detailId")); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: invalid detailId %q", reminder.ErrInvalidInput, s))
			return
		}
		f.DetailID = &id
	}

	list, err := h.deps.Reminders.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDTOs(list))
}

func (h *Handler) getReminder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rem, err := h.deps.Reminders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDTO(rem))
}

func (h *Handler) reminderForDetail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "detailID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rem, ok, err := h.deps.Reminders.ForDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := detailResponse{HasReminder: ok}
	if ok {
		d := toDTO(rem)
		resp.Data = &d
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateReminder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rem, err := h.deps.Reminders.Update(r.Context(), id, reminder.UpdateInput{
		StaffName:     req.StaffName,
		Message:       req.Message,
		ScheduledTime: req.ScheduledTime,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDTO(rem))
}

func (h *Handler) deleteReminder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Reminders.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyConnection(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ok, err := h.deps.Connections.Connect(r.Context(), req.StaffName, req.ChatID, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": ok})
}

func (h *Handler) renderPDF(w http.ResponseWriter, r *http.Request) {
	if h.deps.Renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "pdf rendering is disabled")
		return
	}
	var req pdfRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.deps.Renderer.RenderPDF(r.Context(), req.HTML)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pdfFilename(req.Filename)))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func pdfFilename(name string) string {
	name = path.Base(strings.TrimSpace(strings.ReplaceAll(name, `\`, "/")))
	name = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		name = "report"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Storage: "ok"}
	if h.deps.Scheduler != nil {
		resp.Scheduler = h.deps.Scheduler.Running()
	}
	if h.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.Pinger.Ping(ctx)
		cancel()
		if err != nil {
			h.log.Warn("storage ping failed", logx.Err(err))
			resp.Status, resp.Storage = "degraded", "unavailable"
		}
	}
	if h.deps.Renderer != nil {
		st := h.deps.Renderer.Stats()
		resp.Pool = &poolHealth{Total: st.Total, Busy: st.Busy, Available: st.Available, Queued: st.Queued}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
