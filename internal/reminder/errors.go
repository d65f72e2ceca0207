package reminder

import "errors"

var (
	ErrNotFound            = errors.New("reminder not found")
	ErrNotPending          = errors.New("reminder is not pending")
	ErrDetailHasReminder   = errors.New("detail already has a pending reminder")
	ErrRecipientUnresolved = errors.New("staff has no connected messaging address")
	ErrInvalidInput        = errors.New("invalid input")
)
