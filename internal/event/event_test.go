package event_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_DeliversToFunctionAndChannelHandlers(t *testing.T) {
	bus := event.New()

	var received []event.Payload
	bus.RegisterHandlerFunction(event.JOB_UPDATE, func(_ event.Event, p event.Payload) { received = append(received, p) })

	ch := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(ch, event.JOB_UPDATE, event.ENGINE_UPDATE)

	id := uuid.New()
	bus.Dispatch(event.JOB_UPDATE, id)
	bus.Dispatch(event.ENGINE_UPDATE, "ready")

	assert.Equal(t, []event.Payload{id}, received)
	require.Len(t, ch, 2)
	assert.Equal(t, event.HandlerEvent{Event: event.JOB_UPDATE, Payload: id}, <-ch)
	assert.Equal(t, event.HandlerEvent{Event: event.ENGINE_UPDATE, Payload: "ready"}, <-ch)
}

func TestDispatch_AsyncHandler(t *testing.T) {
	bus := event.New()

	done := make(chan uuid.UUID, 1)
	bus.RegisterAsyncHandlerFunction(event.JOB_PROGRESS, func(_ event.Event, p event.Payload) { done <- p.(uuid.UUID) })

	id := uuid.New()
	bus.Dispatch(event.JOB_PROGRESS, id)

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("async handler was not called")
	}
}

func TestDispatch_InvalidPayloadDropped(t *testing.T) {
	bus := event.New()

	called := false
	bus.RegisterHandlerFunction(event.JOB_UPDATE, func(event.Event, event.Payload) { called = true })
	bus.RegisterHandlerFunction(event.ENGINE_UPDATE, func(event.Event, event.Payload) { called = true })

	bus.Dispatch(event.JOB_UPDATE, "not-a-uuid")
	bus.Dispatch(event.ENGINE_UPDATE, uuid.New())
	bus.Dispatch(event.Event("unknown"), nil)

	assert.False(t, called)
}
