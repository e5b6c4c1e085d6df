package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures storage.
type Config struct {
	Driver      string // "sqlite" (default) or "postgres"
	Path        string // sqlite database file
	DSN         string // postgres connection string
	BusyTimeout time.Duration
	MaxOpen     int // postgres only; sqlite always uses one connection
}

// NotificationType is the kind of a notification.
type NotificationType string

const (
	TypeCreated NotificationType = "created"
	TypeDueSoon NotificationType = "due_soon"
	TypeOverdue NotificationType = "overdue"
)

// Unique reports whether at most one notification of this type may exist per task.
func (t NotificationType) Unique() bool {
	return t == TypeDueSoon || t == TypeOverdue
}

func (t NotificationType) Valid() bool {
	switch t {
	case TypeCreated, TypeDueSoon, TypeOverdue:
		return true
	}
	return false
}

// Task is a user-owned work item with an optional due date.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Notification is a persisted message addressed to a user about a task.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	TaskID    string           `json:"task_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// ListOptions filters ListNotifications. Results are newest first.
type ListOptions struct {
	UnreadOnly bool
	Limit      int // 0 means no limit
	Offset     int
}
