package due

import (
	"fmt"
	"time"
)

const messageDateLayout = "Jan 2, 2006"

// DueSoonMessage is the text of a due_soon notification.
func DueSoonMessage(title string, due time.Time, hours int) string {
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("Task %q is due in %d %s (%s). Make sure to complete it on time!",
		title, hours, unit, due.Format(messageDateLayout))
}

// OverdueMessage is the text of an overdue notification.
func OverdueMessage(title string, due time.Time, days int) string {
	since := "today"
	switch {
	case days == 1:
		since = "1 day ago"
	case days > 1:
		since = fmt.Sprintf("%d days ago", days)
	}
	return fmt.Sprintf("Task %q is overdue! It was due on %s (%s). Please complete it as soon as possible.",
		title, due.Format(messageDateLayout), since)
}
