package due

import (
	"context"
	"testing"

	"duenotify/internal/eventbus"
	"duenotify/internal/storage"
	logx "duenotify/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitIsIdempotent(t *testing.T) {
	st := newMemStore()
	em := NewEmitter(st, nil, logx.Nop())
	ctx := context.Background()

	n, err := em.Emit(ctx, "u1", "t1", storage.TypeOverdue, "late")
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Read)
	assert.Equal(t, storage.TypeOverdue, n.Type)

	_, err = em.Emit(ctx, "u1", "t1", storage.TypeOverdue, "late again")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Another type for the same task is independent.
	_, err = em.Emit(ctx, "u1", "t1", storage.TypeDueSoon, "soon")
	require.NoError(t, err)
	assert.Len(t, st.notifications(), 2)
}

// racyLookup always reports absence so the conditional insert decides.
type racyLookup struct{ *memStore }

func (racyLookup) NotificationExists(context.Context, string, storage.NotificationType) (bool, error) {
	return false, nil
}

func TestEmitLosingRaceIsAlreadyExists(t *testing.T) {
	st := newMemStore()
	em := NewEmitter(racyLookup{st}, nil, logx.Nop())
	ctx := context.Background()

	_, err := em.Emit(ctx, "u1", "t1", storage.TypeDueSoon, "soon")
	require.NoError(t, err)
	_, err = em.Emit(ctx, "u1", "t1", storage.TypeDueSoon, "soon")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, st.countFor("t1", storage.TypeDueSoon))
}

func TestEmitRejectsInvalidInput(t *testing.T) {
	em := NewEmitter(newMemStore(), nil, logx.Nop())
	ctx := context.Background()

	_, err := em.Emit(ctx, "", "t1", storage.TypeDueSoon, "x")
	assert.ErrorIs(t, err, ErrMalformedTask)
	_, err = em.Emit(ctx, "u1", "t1", storage.TypeCreated, "x")
	assert.Error(t, err)
}

func TestEmitWriteFailure(t *testing.T) {
	st := newMemStore()
	st.failWriteFor("t1", errDiskFull)
	em := NewEmitter(st, nil, logx.Nop())

	_, err := em.Emit(context.Background(), "u1", "t1", storage.TypeDueSoon, "x")
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, ErrAlreadyExists)
}

func TestEmitCreatedIsNotDeduplicated(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	st := newMemStore()
	em := NewEmitter(st, bus, logx.Nop())
	ctx := context.Background()

	_, err := em.EmitCreated(ctx, "u1", "t1", "created")
	require.NoError(t, err)
	_, err = em.EmitCreated(ctx, "u1", "t1", "created")
	require.NoError(t, err)
	assert.Equal(t, 2, st.countFor("t1", storage.TypeCreated))

	require.Len(t, events, 2)
	e := <-events
	assert.Equal(t, eventbus.TypeNotificationEmitted, e.Type)
	assert.Equal(t, "created", e.Data.(EmittedEvent).Notification.Message)
}
