package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager() (*Manager, *Bus) {
	log := zerolog.Nop()
	bus := NewBus(log)
	return NewManager(bus, log), bus
}

func TestEmitTypedRoundTrip(t *testing.T) {
	manager, bus := setupManager()
	var got []*Event
	bus.Subscribe(RunProgress, func(e *Event) { got = append(got, e) })

	manager.EmitTyped("runs", &RunProgressData{RunID: "r1", Phase: "evaluating_test", Current: 3, Total: 7})

	require.Len(t, got, 1)
	assert.Equal(t, RunProgress, got[0].Type)
	assert.Equal(t, "runs", got[0].Module)

	data, ok := got[0].GetTypedData().(*RunProgressData)
	require.True(t, ok)
	assert.Equal(t, "r1", data.RunID)
	assert.Equal(t, 3, data.Current)
	assert.Equal(t, 7, data.Total)
}

func TestRunStatusKeepsLifecycleType(t *testing.T) {
	manager, bus := setupManager()
	var got *Event
	bus.Subscribe(RunCompleted, func(e *Event) { got = e })
	bus.Subscribe(RunStarted, func(*Event) { t.Fatal("started handler must not fire") })

	manager.EmitTyped("runs", &RunStatusData{RunID: "r1", Status: "done", Type: RunCompleted})

	require.NotNil(t, got)
	data, ok := got.GetTypedData().(*RunStatusData)
	require.True(t, ok)
	assert.Equal(t, RunCompleted, data.EventType())
	assert.Equal(t, "done", data.Status)
}

func TestUnsubscribe(t *testing.T) {
	_, bus := setupManager()
	calls := 0
	id := bus.Subscribe(CacheCleaned, func(*Event) { calls++ })
	bus.Subscribe(CacheCleaned, func(*Event) { calls += 10 })

	bus.Emit(CacheCleaned, "test", nil)
	bus.Unsubscribe(id)
	bus.Emit(CacheCleaned, "test", nil)

	assert.Equal(t, 21, calls)
	assert.Equal(t, 1, bus.SubscriberCount(CacheCleaned))
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	_, bus := setupManager()
	delivered := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "test", nil) })
	assert.True(t, delivered)
}

func TestEmitError(t *testing.T) {
	manager, bus := setupManager()
	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("scheduler", errors.New("disk full"), map[string]interface{}{"job": "wal"})

	require.NotNil(t, got)
	data, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "disk full", data.Error)
	assert.Equal(t, "wal", data.Context["job"])
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() { m.EmitTyped("x", &CacheCleanedData{Removed: 1}) })
}
