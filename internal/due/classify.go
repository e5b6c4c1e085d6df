package due

import (
	"errors"
	"math"
	"strings"
	"time"

	"duenotify/internal/storage"
)

// DefaultDueSoonWindow is how far ahead a task counts as due soon.
const DefaultDueSoonWindow = 24 * time.Hour

var ErrMalformedTask = errors.New("malformed task")

// State is the lifecycle state of a task at a point in time.
type State int

const (
	StateNone State = iota
	StateDueSoon
	StateOverdue
)

func (s State) String() string {
	switch s {
	case StateDueSoon:
		return "due_soon"
	case StateOverdue:
		return "overdue"
	default:
		return "none"
	}
}

// NotificationType maps a notifying state to its notification type.
func (s State) NotificationType() (storage.NotificationType, bool) {
	switch s {
	case StateDueSoon:
		return storage.TypeDueSoon, true
	case StateOverdue:
		return storage.TypeOverdue, true
	}
	return "", false
}

// Classification is the result of Classify.
type Classification struct {
	State State
	// HoursRemaining is set for StateDueSoon, rounded to the nearest hour.
	HoursRemaining int
	// DaysOverdue is set for StateOverdue, in whole days rounded down.
	DaysOverdue int
}

// Detail returns the derived number for the state (hours or days).
func (c Classification) Detail() int {
	switch c.State {
	case StateDueSoon:
		return c.HoursRemaining
	case StateOverdue:
		return c.DaysOverdue
	}
	return 0
}

// Classify places t relative to now using the default 24h window.
func Classify(t storage.Task, now time.Time) (Classification, error) {
	return ClassifyWindow(t, now, DefaultDueSoonWindow)
}

// ClassifyWindow places t relative to now:
//
//	due < now                 overdue
//	now <= due <= now+window  due_soon
//	otherwise                 none
//
// Completed tasks and tasks without a due date are always none.
func ClassifyWindow(t storage.Task, now time.Time, window time.Duration) (Classification, error) {
	if t.Completed || t.DueAt == nil {
		return Classification{State: StateNone}, nil
	}
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.UserID) == "" {
		return Classification{}, ErrMalformedTask
	}
	if window <= 0 {
		window = DefaultDueSoonWindow
	}

	due := *t.DueAt
	if due.Before(now) {
		days := int(now.Sub(due) / (24 * time.Hour))
		return Classification{State: StateOverdue, DaysOverdue: days}, nil
	}
	if !due.After(now.Add(window)) {
		hours := int(math.Round(float64(due.Sub(now)) / float64(time.Hour)))
		return Classification{State: StateDueSoon, HoursRemaining: hours}, nil
	}
	return Classification{State: StateNone}, nil
}
