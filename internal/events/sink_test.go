package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/events"
)

type panicSink struct{}

func (panicSink) Emit(events.Event) { panic("boom") }

func TestSafeEmitSwallowsPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		events.SafeEmit(panicSink{}, events.Event{Type: events.SyncStarted})
	})
	assert.NotPanics(t, func() {
		events.SafeEmit(nil, events.Event{Type: events.SyncStarted})
	})
}

func TestSafeEmitStampsTimestamp(t *testing.T) {
	rec := events.NewRecorder()
	events.SafeEmit(rec, events.Event{Type: events.BookmarkReady, BookmarkID: "bm-1"})

	got := rec.Events()
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, "bm-1", got[0].BookmarkID)
}

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus(nil)

	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Emit(events.Event{Type: events.SyncCompleted, Action: "uploaded"})

	evA := <-a
	evB := <-b
	assert.Equal(t, events.SyncCompleted, evA.Type)
	assert.Equal(t, "uploaded", evB.Action)

	unsubA()
	unsubA() // idempotent

	_, ok := <-a
	assert.False(t, ok, "channel closed after unsubscribe")

	bus.Emit(events.Event{Type: events.SyncFailed})
	assert.Equal(t, events.SyncFailed, (<-b).Type)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := events.NewBus(events.NewNopLogger())
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Emit(events.Event{Type: events.SyncStarted})
	bus.Emit(events.Event{Type: events.SyncCompleted})

	assert.Len(t, ch, 1)
	assert.Equal(t, events.SyncStarted, (<-ch).Type)
}

func TestRecorderOfType(t *testing.T) {
	rec := events.NewRecorder()
	rec.Emit(events.Event{Type: events.SyncStarted})
	rec.Emit(events.Event{Type: events.SyncCompleted})
	rec.Emit(events.Event{Type: events.SyncStarted})

	assert.Len(t, rec.OfType(events.SyncStarted), 2)
	assert.Len(t, rec.OfType(events.SyncFailed), 0)

	rec.Reset()
	assert.Empty(t, rec.Events())
}
