package due

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"duenotify/internal/storage"
)

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]storage.Task
	notes []storage.Notification

	fetchErr   error
	failWrite  map[string]error
	stallWrite map[string]bool
	stallFetch bool
	fetches    int
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]storage.Task{}, failWrite: map[string]error{}, stallWrite: map[string]bool{}}
}

func (m *memStore) addTask(t storage.Task) {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
}

func (m *memStore) setFetchErr(err error) {
	m.mu.Lock()
	m.fetchErr = err
	m.mu.Unlock()
}

func (m *memStore) failWriteFor(taskID string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.failWrite, taskID)
	} else {
		m.failWrite[taskID] = err
	}
	m.mu.Unlock()
}

// stallWriteFor makes writes for taskID block until their context ends.
func (m *memStore) stallWriteFor(taskID string) {
	m.mu.Lock()
	m.stallWrite[taskID] = true
	m.mu.Unlock()
}

func (m *memStore) setStallFetch(v bool) {
	m.mu.Lock()
	m.stallFetch = v
	m.mu.Unlock()
}

func (m *memStore) stalled(ctx context.Context, stall bool) error {
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *memStore) complete(taskID string) {
	m.mu.Lock()
	t := m.tasks[taskID]
	t.Completed = true
	m.tasks[taskID] = t
	m.mu.Unlock()
}

func (m *memStore) ListActiveDueBefore(ctx context.Context, cutoff time.Time) ([]storage.Task, error) {
	m.mu.Lock()
	stall := m.stallFetch
	m.mu.Unlock()
	if err := m.stalled(ctx, stall); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]storage.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Completed || t.DueAt == nil || t.DueAt.After(cutoff) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) NotificationExists(_ context.Context, taskID string, typ storage.NotificationType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes {
		if n.TaskID == taskID && n.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertNotificationIfAbsent(ctx context.Context, n storage.Notification) (bool, error) {
	m.mu.Lock()
	stall := m.stallWrite[n.TaskID]
	m.mu.Unlock()
	if err := m.stalled(ctx, stall); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[n.TaskID]; err != nil {
		return false, err
	}
	for _, have := range m.notes {
		if have.TaskID == n.TaskID && have.Type == n.Type {
			return false, nil
		}
	}
	m.notes = append(m.notes, n)
	return true, nil
}

func (m *memStore) InsertNotification(_ context.Context, n storage.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[n.TaskID]; err != nil {
		return err
	}
	m.notes = append(m.notes, n)
	return nil
}

func (m *memStore) DeleteNotificationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.notes[:0]
	var n int64
	for _, note := range m.notes {
		if note.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, note)
	}
	m.notes = kept
	return n, nil
}

func (m *memStore) notifications() []storage.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Notification(nil), m.notes...)
}

func (m *memStore) countFor(taskID string, typ storage.NotificationType) int {
	n := 0
	for _, note := range m.notifications() {
		if note.TaskID == taskID && note.Type == typ {
			n++
		}
	}
	return n
}

var errDiskFull = errors.New("disk full")
