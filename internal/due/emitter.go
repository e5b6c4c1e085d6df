package due

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duenotify/internal/eventbus"
	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"github.com/google/uuid"
)

// ErrAlreadyExists means the (task, type) notification was emitted before.
// It is the steady-state outcome of repeated scans, not a failure.
var ErrAlreadyExists = errors.New("notification already exists")

// NotificationWriter is the store surface the Emitter needs.
type NotificationWriter interface {
	NotificationLookup
	InsertNotificationIfAbsent(ctx context.Context, n storage.Notification) (bool, error)
	InsertNotification(ctx context.Context, n storage.Notification) error
}

// EmittedEvent is published as eventbus.TypeNotificationEmitted.
type EmittedEvent struct {
	Notification storage.Notification `json:"notification"`
}

type Emitter struct {
	store NotificationWriter
	gate  *Gate
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewEmitter(store NotificationWriter, bus eventbus.Bus, log logx.Logger) *Emitter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Emitter{
		store: store,
		gate:  NewGate(store),
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// Emit persists an unread due_soon or overdue notification unless one exists
// for the task. It returns ErrAlreadyExists in that case.
func (e *Emitter) Emit(ctx context.Context, userID, taskID string, typ storage.NotificationType, message string) (storage.Notification, error) {
	if !typ.Unique() {
		return storage.Notification{}, fmt.Errorf("emit %q: use EmitCreated for non-unique types", typ)
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(taskID) == "" {
		return storage.Notification{}, ErrMalformedTask
	}

	ok, err := e.gate.ShouldEmit(ctx, taskID, typ)
	if err != nil {
		return storage.Notification{}, err
	}
	if !ok {
		return storage.Notification{}, ErrAlreadyExists
	}

	n := e.newNotification(userID, taskID, typ, message)
	inserted, err := e.store.InsertNotificationIfAbsent(ctx, n)
	if err != nil {
		return storage.Notification{}, err
	}
	if !inserted {
		// Lost the race to a concurrent cycle.
		return storage.Notification{}, ErrAlreadyExists
	}
	e.emitted(n)
	return n, nil
}

// EmitCreated persists a created notification. The task-creation path
// supplies the preformatted message; created notifications are not deduplicated.
func (e *Emitter) EmitCreated(ctx context.Context, userID, taskID, message string) (storage.Notification, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(taskID) == "" {
		return storage.Notification{}, ErrMalformedTask
	}
	n := e.newNotification(userID, taskID, storage.TypeCreated, message)
	if err := e.store.InsertNotification(ctx, n); err != nil {
		return storage.Notification{}, err
	}
	e.emitted(n)
	return n, nil
}

func (e *Emitter) newNotification(userID, taskID string, typ storage.NotificationType, message string) storage.Notification {
	return storage.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		TaskID:    taskID,
		Type:      typ,
		Message:   message,
		Read:      false,
		CreatedAt: e.now().UTC(),
	}
}

func (e *Emitter) emitted(n storage.Notification) {
	e.log.Debug("notification emitted",
		logx.String("type", string(n.Type)),
		logx.String("task_id", n.TaskID),
		logx.String("user_id", n.UserID),
	)
	eventbus.Publish(e.bus, eventbus.TypeNotificationEmitted, EmittedEvent{Notification: n})
}
