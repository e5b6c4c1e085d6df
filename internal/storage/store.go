package storage

import (
	"context"
	"time"
)

// Store is the persistence API used by the due engine, the task collaborator
// and the notification commands.
type Store interface {
	// ListActiveDueBefore returns incomplete tasks of all users with due_at <= cutoff.
	ListActiveDueBefore(ctx context.Context, cutoff time.Time) ([]Task, error)

	NotificationExists(ctx context.Context, taskID string, typ NotificationType) (bool, error)
	// InsertNotificationIfAbsent inserts n unless a row with the same unique
	// (task_id, type) exists. It reports whether a row was inserted.
	InsertNotificationIfAbsent(ctx context.Context, n Notification) (bool, error)
	InsertNotification(ctx context.Context, n Notification) error
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListNotifications(ctx context.Context, userID string, opt ListOptions) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id, userID string) error
	DeleteAllNotifications(ctx context.Context, userID string) (int64, error)

	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, userID string) ([]Task, error)
	SetTaskCompleted(ctx context.Context, id string, completed bool) error
	// DeleteTask removes the task and its notifications.
	DeleteTask(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
