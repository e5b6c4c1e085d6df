package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"duenotify/internal/due"
	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *storage.SQLStore) {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, due.NewEmitter(st, nil, logx.Nop()), logx.Nop()), st
}

func TestCreateEmitsCreatedNotification(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	dueAt := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)

	task, err := svc.Create(ctx, NewTask{UserID: "u1", Title: " Ship it ", Description: "release notes", DueAt: &dueAt})
	require.NoError(t, err)
	assert.Equal(t, "Ship it", task.Title)

	notes, err := st.ListNotifications(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, storage.TypeCreated, notes[0].Type)
	assert.Equal(t, task.ID, notes[0].TaskID)
	assert.Equal(t, "New task created: \"Ship it\" (Due: Jun 1, 2025).\nDescription: release notes", notes[0].Message)
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), NewTask{UserID: "u1", Title: "   "})
	assert.Error(t, err)
	_, err = svc.Create(context.Background(), NewTask{Title: "x"})
	assert.Error(t, err)
}

type failingEmitter struct{}

func (failingEmitter) EmitCreated(context.Context, string, string, string) (storage.Notification, error) {
	return storage.Notification{}, errors.New("db locked")
}

func TestCreateSurvivesNotificationFailure(t *testing.T) {
	_, st := newTestService(t)
	svc := NewService(st, failingEmitter{}, logx.Nop())

	task, err := svc.Create(context.Background(), NewTask{UserID: "u1", Title: "x"})
	require.NoError(t, err)
	got, err := svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DueAt)
}

func TestCompleteKeepsNotifications(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)

	task, err := svc.Create(ctx, NewTask{UserID: "u1", Title: "late", DueAt: &past})
	require.NoError(t, err)
	sc := due.NewScanner(st, due.NewEmitter(st, nil, logx.Nop()), due.ScannerConfig{}, logx.Nop(), nil)
	_, err = sc.RunCycle(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, task.ID))
	_, err = sc.RunCycle(ctx)
	require.NoError(t, err)

	notes, err := st.ListNotifications(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	got, err := svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	require.NoError(t, svc.Reopen(ctx, task.ID))
	got, err = svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

func TestDeleteCascades(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{UserID: "u1", Title: "gone"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, task.ID))

	_, err = svc.Get(ctx, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	notes, err := st.ListNotifications(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, notes)

	assert.ErrorIs(t, svc.Delete(ctx, task.ID), storage.ErrNotFound)
	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreatedMessage(t *testing.T) {
	assert.Equal(t, `New task created: "a".`, CreatedMessage("a", nil, ""))
}
