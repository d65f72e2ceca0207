// Package storage persists reminders, pending connection codes and staff
// bindings.
//
// Drivers:
//   - "memory": process-local maps, for development and tests
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL through pgx's database/sql driver
//
// The SQL drivers share one implementation and carry their schema as
// embedded migrations.
package storage
