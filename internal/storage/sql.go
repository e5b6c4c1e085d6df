package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "duenotify/pkg/logx"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SQLStore implements Store on sqlx for both supported drivers.
// Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	log    logx.Logger
}

var _ Store = (*SQLStore)(nil)

type taskRow struct {
	ID          string        `db:"id"`
	UserID      string        `db:"user_id"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	DueAt       sql.NullInt64 `db:"due_at"`
	Completed   bool          `db:"completed"`
	CreatedAt   int64         `db:"created_at"`
}

func (r taskRow) task() Task {
	t := Task{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.DueAt.Valid {
		due := time.UnixMilli(r.DueAt.Int64).UTC()
		t.DueAt = &due
	}
	return t
}

type notificationRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	TaskID    string `db:"task_id"`
	Type      string `db:"type"`
	Message   string `db:"message"`
	Read      bool   `db:"is_read"`
	CreatedAt int64  `db:"created_at"`
}

func (r notificationRow) notification() Notification {
	return Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		TaskID:    r.TaskID,
		Type:      NotificationType(r.Type),
		Message:   r.Message,
		Read:      r.Read,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

const (
	taskColumns         = `id, user_id, title, description, due_at, completed, created_at`
	notificationColumns = `id, user_id, task_id, type, message, is_read, created_at`
)

func (s *SQLStore) Driver() string { return s.driver }

// DB exposes the underlying handle for tooling.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) q(query string) string { return s.db.Rebind(query) }

func (s *SQLStore) ListActiveDueBefore(ctx context.Context, cutoff time.Time) ([]Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+taskColumns+` FROM tasks
		WHERE completed = FALSE AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at`),
		cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing due tasks: %w", err)
	}
	out := make([]Task, len(rows))
	for i, r := range rows {
		out[i] = r.task()
	}
	return out, nil
}

func (s *SQLStore) NotificationExists(ctx context.Context, taskID string, typ NotificationType) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM notifications WHERE task_id = ? AND type = ?`), taskID, string(typ))
	if err != nil {
		return false, fmt.Errorf("checking notification %s/%s: %w", taskID, typ, err)
	}
	return n > 0, nil
}

func prepareNotification(n Notification) (Notification, error) {
	if !n.Type.Valid() {
		return n, fmt.Errorf("invalid notification type %q", n.Type)
	}
	if strings.TrimSpace(n.TaskID) == "" || strings.TrimSpace(n.UserID) == "" {
		return n, errors.New("notification requires task and user")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return n, nil
}

func (s *SQLStore) InsertNotificationIfAbsent(ctx context.Context, n Notification) (bool, error) {
	n, err := prepareNotification(n)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		n.ID, n.UserID, n.TaskID, string(n.Type), n.Message, n.Read, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting notification %s/%s: %w", n.TaskID, n.Type, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting notification %s/%s: %w", n.TaskID, n.Type, err)
	}
	return rows > 0, nil
}

func (s *SQLStore) InsertNotification(ctx context.Context, n Notification) error {
	n, err := prepareNotification(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.TaskID, string(n.Type), n.Message, n.Read, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification %s/%s: %w", n.TaskID, n.Type, err)
	}
	return nil
}

func (s *SQLStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notifications WHERE created_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, opt ListOptions) ([]Notification, error) {
	var (
		b    strings.Builder
		args = []any{userID}
	)
	b.WriteString(`SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`)
	if opt.UnreadOnly {
		b.WriteString(` AND is_read = FALSE`)
	}
	b.WriteString(` ORDER BY created_at DESC, id`)
	if opt.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, opt.Limit)
		if opt.Offset > 0 {
			b.WriteString(` OFFSET ?`)
			args = append(args, opt.Offset)
		}
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.q(b.String()), args...); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	out := make([]Notification, len(rows))
	for i, r := range rows {
		out[i] = r.notification()
	}
	return out, nil
}

func (s *SQLStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = FALSE`), userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

func (s *SQLStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return expectRow(res, "notification", id)
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET is_read = TRUE WHERE user_id = ? AND is_read = FALSE`), userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notifications WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return expectRow(res, "notification", id)
}

func (s *SQLStore) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notifications WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("deleting notifications: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return Task{}, errors.New("task title must not be empty")
	}
	if strings.TrimSpace(t.UserID) == "" {
		return Task{}, errors.New("task user must not be empty")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var due sql.NullInt64
	if t.DueAt != nil {
		due = sql.NullInt64{Int64: t.DueAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.UserID, t.Title, t.Description, due, t.Completed, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (Task, error) {
	var r taskRow
	err := s.db.GetContext(ctx, &r, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("getting task %s: %w", id, err)
	}
	return r.task(), nil
}

func (s *SQLStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]Task, len(rows))
	for i, r := range rows {
		out[i] = r.task()
	}
	return out, nil
}

func (s *SQLStore) SetTaskCompleted(ctx context.Context, id string, completed bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET completed = ? WHERE id = ?`), completed, id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	return expectRow(res, "task", id)
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	// The foreign key cascades; the explicit delete keeps drivers without FK enforcement consistent.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM notifications WHERE task_id = ?`), id); err != nil {
		return fmt.Errorf("deleting notifications of task %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if err := expectRow(res, "task", id); err != nil {
		return err
	}
	return tx.Commit()
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
