package reminder

import (
	"context"
	"time"
)

// Store persists reminders. Implementations live in internal/storage.
//
// CreateReminder must reject a second pending reminder for the same detail
// with ErrDetailHasReminder. UpdateReminder and DeleteReminder only touch
// pending rows and return ErrNotPending otherwise.
type Store interface {
	CreateReminder(ctx context.Context, r Reminder) (Reminder, error)
	GetReminder(ctx context.Context, id int64) (Reminder, error)
	ListReminders(ctx context.Context, f Filter) ([]Reminder, error)
	// DueReminders returns pending reminders scheduled at or before now,
	// ordered by scheduled time ascending.
	DueReminders(ctx context.Context, now time.Time) ([]Reminder, error)
	UpdateStatus(ctx context.Context, id int64, status Status, sentAt *time.Time, errMsg string) error
	UpdateReminder(ctx context.Context, id int64, p Patch) (Reminder, error)
	DeleteReminder(ctx context.Context, id int64) error
}

// ConnectionStore keeps handshake codes and the resulting staff bindings.
type ConnectionStore interface {
	PutPending(ctx context.Context, pc PendingConnection) error
	GetPending(ctx context.Context, chatID string) (PendingConnection, bool, error)
	DeletePending(ctx context.Context, chatID string) error
	DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error)
	BindStaff(ctx context.Context, staffName, chatID string) error
	LookupStaff(ctx context.Context, staffName string) (chatID string, ok bool, err error)
}

// Directory resolves a staff name to a messaging address.
type Directory interface {
	Lookup(ctx context.Context, staffName string) (address string, ok bool, err error)
}

// Gateway is the messaging provider. Init with receive=true also starts
// delivery of incoming handshake messages.
type Gateway interface {
	Init(ctx context.Context, receive bool) error
	Send(ctx context.Context, address, text string) error
}

// HandshakeHandler is invoked by the gateway for incoming chat traffic.
type HandshakeHandler interface {
	OnIncomingStart(ctx context.Context, address string) (code string, err error)
	OnIncomingMessage(ctx context.Context, address, text string) error
}
