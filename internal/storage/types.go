package storage

import (
	"context"
	"errors"
	"time"

	"fieldreport/internal/reminder"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "memory", "sqlite" (default), "postgres".
// Path is the sqlite file; DSN the postgres connection string.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
	// Location is the wall-clock zone scheduled times are read and written
	// in; nil means time.Local.
	Location *time.Location
}

// Store is everything the reminder subsystem persists.
type Store interface {
	reminder.Store
	reminder.ConnectionStore
	Ping(ctx context.Context) error
	Close() error
}
