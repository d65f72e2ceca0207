package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldreport/internal/pool"
	"fieldreport/internal/reminder"
	"fieldreport/internal/render"
	logx "fieldreport/pkg/logx"
)

type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

// statusFor maps domain errors onto HTTP statuses. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reminder.ErrInvalidInput), errors.Is(err, render.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, reminder.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrDetailHasReminder), errors.Is(err, reminder.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, reminder.ErrRecipientUnresolved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrEmpty), errors.Is(err, pool.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Err(err),
		)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
