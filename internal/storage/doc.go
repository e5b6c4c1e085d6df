// Package storage persists tasks and notifications.
//
// One SQL implementation serves two drivers:
//   - "sqlite": embedded database file (modernc.org/sqlite)
//   - "postgres": PostgreSQL through pgx's database/sql driver
//
// The schema is versioned with goose migrations embedded in the binary.
// Uniqueness of due_soon/overdue notifications per task is enforced by a
// partial unique index; InsertNotificationIfAbsent relies on it.
package storage
