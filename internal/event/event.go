// Package event provides the in-process event bus which decouples the
// services producing changes (jobs, the media engine) from the consumers
// interested in them (the activity socket, the history recorder).
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("Events")

type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		mu           sync.RWMutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	// JOB_UPDATE is dispatched whenever a transcode job changes state, with
	// the jobs ID as the payload.
	JOB_UPDATE Event = "job:update"

	// JOB_PROGRESS is dispatched when a running job reports new progress.
	JOB_PROGRESS Event = "job:update:progress"

	// JOB_REMOVED is dispatched after a terminal job is discarded.
	JOB_REMOVED Event = "job:removed"

	// ENGINE_UPDATE is dispatched when the media engine changes state, with
	// the new state (as a string) as the payload.
	ENGINE_UPDATE Event = "engine:update"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel sends a HandlerEvent on the channel any time one of the given
// events is dispatched. A blocked channel blocks the dispatching goroutine, so handler
// channels should be buffered appropriately.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction registers a handler called synchronously on the dispatching
// goroutine. It must return quickly.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction registers a handler which is called inside of a new
// goroutine for each dispatch.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch delivers the payload to every handler registered for the event. Payloads
// which are not valid for the event are dropped.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := validatePayload(event, payload); err != nil {
		log.Emit(logger.ERROR, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	handler.mu.RLock()
	fns := handler.fnHandlers[event]
	chans := handler.chanHandlers[event]
	handler.mu.RUnlock()

	for _, handle := range fns {
		if handle.async {
			go handle.handle(event, payload)
		} else {
			handle.handle(event, payload)
		}
	}

	ev := HandlerEvent{event, payload}
	for _, handle := range chans {
		handle <- ev
	}
}

func validatePayload(event Event, payload Payload) error {
	payloadTypeName := "Nil"
	if t := reflect.TypeOf(payload); t != nil {
		payloadTypeName = t.Name()
	}

	switch event {
	case JOB_UPDATE, JOB_PROGRESS, JOB_REMOVED:
		if _, ok := payload.(uuid.UUID); !ok {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected uuid.UUID payload", payloadTypeName, event)
		}

		return nil
	case ENGINE_UPDATE:
		if _, ok := payload.(string); !ok {
			return fmt.Errorf("illegal payload (type %s) for %s event. Expected string payload", payloadTypeName, event)
		}

		return nil
	}

	return errors.New("event type not recognized for validation")
}
