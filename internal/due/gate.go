package due

import (
	"context"
	"fmt"

	"duenotify/internal/storage"
)

// NotificationLookup answers whether a notification exists for (task, type).
type NotificationLookup interface {
	NotificationExists(ctx context.Context, taskID string, typ storage.NotificationType) (bool, error)
}

// Gate is the fast-path duplicate check. It can race with a concurrent
// cycle; the conditional insert behind it is what enforces uniqueness.
type Gate struct {
	store NotificationLookup
}

func NewGate(store NotificationLookup) *Gate {
	return &Gate{store: store}
}

// ShouldEmit reports whether no notification of typ exists for taskID yet.
func (g *Gate) ShouldEmit(ctx context.Context, taskID string, typ storage.NotificationType) (bool, error) {
	exists, err := g.store.NotificationExists(ctx, taskID, typ)
	if err != nil {
		return false, fmt.Errorf("gate %s/%s: %w", taskID, typ, err)
	}
	return !exists, nil
}
