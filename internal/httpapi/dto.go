package httpapi

import (
	"time"

	"fieldreport/internal/reminder"
)

type reminderDTO struct {
	ID            int64   `json:"id"`
	StaffName     string  `json:"staffName"`
	ChatID        string  `json:"chatId,omitempty"`
	Message       string  `json:"message"`
	ScheduledTime string  `json:"scheduledTime"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
	SentAt        *string `json:"sentAt,omitempty"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
	DetailID      *int64  `json:"detailId,omitempty"`
}

func toDTO(r reminder.Reminder) reminderDTO {
	out := reminderDTO{
		ID:            r.ID,
		StaffName:     r.StaffName,
		ChatID:        r.ChatID,
		Message:       r.Message,
		ScheduledTime: r.ScheduledTime.Format(reminder.TimeLayout),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		ErrorMessage:  r.ErrorMessage,
		DetailID:      r.DetailID,
	}
	if r.SentAt != nil {
		s := r.SentAt.Format(time.RFC3339)
		out.SentAt = &s
	}
	return out
}

func toDTOs(rs []reminder.Reminder) []reminderDTO {
	out := make([]reminderDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toDTO(r))
	}
	return out
}

type createRequest struct {
	StaffName     string `json:"staffName"`
	Message       string `json:"message"`
	ScheduledTime string `json:"scheduledTime"`
	DetailID      *int64 `json:"detailId,omitempty"`
}

type updateRequest struct {
	StaffName     *string `json:"staffName,omitempty"`
	Message       *string `json:"message,omitempty"`
	ScheduledTime *string `json:"scheduledTime,omitempty"`
}

type verifyRequest struct {
	StaffName string `json:"staffName"`
	ChatID    string `json:"chatId"`
	Code      string `json:"code"`
}

type pdfRequest struct {
	HTML     string `json:"html"`
	Filename string `json:"filename,omitempty"`
}

type detailResponse struct {
	HasReminder bool         `json:"hasReminder"`
	Data        *reminderDTO `json:"data"`
}

type healthResponse struct {
	Status    string      `json:"status"`
	Scheduler bool        `json:"schedulerRunning"`
	Storage   string      `json:"storage"`
	Pool      *poolHealth `json:"pool,omitempty"`
}

type poolHealth struct {
	Total     int `json:"total"`
	Busy      int `json:"busy"`
	Available int `json:"available"`
	Queued    int `json:"queued"`
}
