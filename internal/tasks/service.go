// Package tasks is the task collaborator: it owns task lifecycle operations
// and emits the created notification when a task is added.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"github.com/go-playground/validator/v10"
)

// Store is the task persistence surface.
type Store interface {
	CreateTask(ctx context.Context, t storage.Task) (storage.Task, error)
	GetTask(ctx context.Context, id string) (storage.Task, error)
	ListTasks(ctx context.Context, userID string) ([]storage.Task, error)
	SetTaskCompleted(ctx context.Context, id string, completed bool) error
	DeleteTask(ctx context.Context, id string) error
}

// CreatedEmitter persists created notifications.
type CreatedEmitter interface {
	EmitCreated(ctx context.Context, userID, taskID, message string) (storage.Notification, error)
}

// NewTask is the input of Create.
type NewTask struct {
	UserID      string     `validate:"required,max=128"`
	Title       string     `validate:"required,max=200"`
	Description string     `validate:"max=2000"`
	DueAt       *time.Time `validate:"omitempty"`
}

type Service struct {
	store    Store
	emitter  CreatedEmitter
	log      logx.Logger
	validate *validator.Validate
}

func NewService(store Store, emitter CreatedEmitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		emitter:  emitter,
		log:      log.With(logx.String("comp", "tasks")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create persists a task and emits its created notification. A failed
// notification is logged; the task is still returned.
func (s *Service) Create(ctx context.Context, in NewTask) (storage.Task, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return storage.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	var due *time.Time
	if in.DueAt != nil {
		d := in.DueAt.UTC()
		due = &d
	}
	t, err := s.store.CreateTask(ctx, storage.Task{
		UserID:      in.UserID,
		Title:       in.Title,
		Description: in.Description,
		DueAt:       due,
	})
	if err != nil {
		return storage.Task{}, err
	}

	if s.emitter != nil {
		msg := CreatedMessage(t.Title, t.DueAt, t.Description)
		if _, err := s.emitter.EmitCreated(ctx, t.UserID, t.ID, msg); err != nil {
			s.log.Warn("created notification failed", logx.String("task_id", t.ID), logx.Err(err))
		}
	}
	s.log.Info("task created", logx.String("task_id", t.ID), logx.String("user_id", t.UserID))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (storage.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]storage.Task, error) {
	return s.store.ListTasks(ctx, userID)
}

// Complete marks a task done. Notifications already emitted for it stay.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.store.SetTaskCompleted(ctx, id, true)
}

// Reopen clears the completed flag.
func (s *Service) Reopen(ctx context.Context, id string) error {
	return s.store.SetTaskCompleted(ctx, id, false)
}

// Delete removes the task together with its notifications.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.log.Info("task deleted", logx.String("task_id", id))
	return nil
}

// CreatedMessage is the text of a created notification.
func CreatedMessage(title string, due *time.Time, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New task created: %q", title)
	if due != nil {
		fmt.Fprintf(&b, " (Due: %s)", due.Format("Jan 2, 2006"))
	}
	b.WriteString(".")
	if description != "" {
		b.WriteString("\nDescription: ")
		b.WriteString(description)
	}
	return b.String()
}
