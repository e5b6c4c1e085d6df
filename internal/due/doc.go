// Package due turns task due dates into notifications.
//
// A scan cycle fetches every incomplete task due within the due-soon window,
// classifies it against the current time and emits at most one due_soon and
// one overdue notification per task. The store's conditional insert is the
// authoritative duplicate guard, so overlapping cycles and restarts never
// produce a second row. A separate sweeper deletes aged notifications.
package due
