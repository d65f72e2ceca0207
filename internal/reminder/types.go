package reminder

import (
	"strings"
	"time"
)

// TimeLayout is the wire and storage format of scheduled times. Values are
// naive local time; no timezone conversion is performed.
const TimeLayout = "2006-01-02 15:04:05"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusSent:
		return StatusSent, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Reminder is a scheduled one-time message to a staff member, optionally
// tied to a schedule-detail.
type Reminder struct {
	ID            int64
	StaffName     string
	ChatID        string
	Message       string
	ScheduledTime time.Time
	Status        Status
	CreatedAt     time.Time
	SentAt        *time.Time
	ErrorMessage  string
	DetailID      *int64
}

// Filter narrows ListReminders. Zero fields match everything.
type Filter struct {
	Status    Status
	StaffName string
	DetailID  *int64
}

// PendingConnection is a one-time code issued to a chat during the
// messaging handshake.
type PendingConnection struct {
	ChatID    string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (p PendingConnection) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// CreateInput is the caller-supplied part of a new reminder.
type CreateInput struct {
	StaffName     string
	Message       string
	ScheduledTime string
	DetailID      *int64
}

// UpdateInput carries optional replacements for a pending reminder.
type UpdateInput struct {
	StaffName     *string
	Message       *string
	ScheduledTime *string
}

// Patch is the resolved form of UpdateInput handed to the store.
type Patch struct {
	StaffName     *string
	ChatID        *string
	Message       *string
	ScheduledTime *time.Time
}
