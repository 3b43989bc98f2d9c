package engine

import (
	"context"
	"sync"

	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const loadKey = "engine"

type (
	// Loader brings up a new engine instance. Progress and log output
	// produced while loading should be reported through emit.
	Loader func(ctx context.Context, emit *Dispatcher) (Engine, error)

	State string

	HandleOption func(*Handle)

	// Handle owns the lifecycle of the single shared Engine. The engine is
	// loaded on first demand, concurrent callers share one in-flight load,
	// and the loaded instance is kept for the life of the process.
	//
	// Command execution is serialised through Exclusive, as the engine
	// makes no promises about running concurrent commands.
	Handle struct {
		mu       sync.Mutex
		loader   Loader
		instance Engine
		loadErr  error
		state    State

		group  singleflight.Group
		slot   chan struct{}
		events *Dispatcher

		loadContext   func() (context.Context, context.CancelFunc)
		stateListener func(State)
	}
)

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// WithStateListener registers a callback invoked each time the handle
// changes state. The callback must not call back in to the handle.
func WithStateListener(listener func(State)) HandleOption {
	return func(h *Handle) { h.stateListener = listener }
}

// WithLoadContext overrides how the context for a load is derived. Loads are
// shared between callers, so they never inherit a single caller's context.
func WithLoadContext(factory func() (context.Context, context.CancelFunc)) HandleOption {
	return func(h *Handle) { h.loadContext = factory }
}

func NewHandle(loader Loader, opts ...HandleOption) *Handle {
	h := &Handle{
		loader: loader,
		state:  StateUnloaded,
		slot:   make(chan struct{}, 1),
		events: NewDispatcher(),
		loadContext: func() (context.Context, context.CancelFunc) {
			return context.WithCancel(context.Background())
		},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Acquire returns the loaded engine, performing the load if this is the
// first demand for it. Callers arriving while a load is in progress wait
// for that same load. If ctx ends first, the caller stops waiting but the
// load itself carries on for the benefit of others.
func (h *Handle) Acquire(ctx context.Context) (Engine, error) {
	if instance, done, err := h.loaded(); done {
		return instance, err
	}

	result := h.group.DoChan(loadKey, func() (any, error) { return h.load() })
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsReady reports whether the engine has been successfully loaded.
func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.instance != nil
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Exclusive acquires the engine and then waits for the single execution
// slot before calling fn. The slot is released when fn returns.
func (h *Handle) Exclusive(ctx context.Context, fn func(Engine) error) error {
	instance, err := h.Acquire(ctx)
	if err != nil {
		return err
	}

	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.slot }()

	return fn(instance)
}

// Subscribe registers a listener for engine events. Events emitted during
// the load, and by the engine once loaded, are forwarded to it.
func (h *Handle) Subscribe(listener Listener) func() {
	return h.events.Subscribe(listener)
}

// Reset clears a failed load so that the next Acquire will retry it. It
// has no effect on a handle which is loading or already loaded.
func (h *Handle) Reset() bool {
	h.mu.Lock()
	if h.state != StateFailed {
		h.mu.Unlock()
		return false
	}

	h.loadErr = nil
	h.mu.Unlock()

	log.Emit(logger.REMOVE, "Cleared failed engine load, next acquisition will retry\n")
	h.setState(StateUnloaded)
	return true
}

func (h *Handle) loaded() (Engine, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.instance != nil {
		return h.instance, true, nil
	}
	if h.loadErr != nil {
		return nil, true, h.loadErr
	}

	return nil, false, nil
}

// load performs the actual engine load. It is only ever run from within
// the singleflight group, however a load may have completed between the
// callers first check and joining the group, so the result is re-checked.
func (h *Handle) load() (Engine, error) {
	if instance, done, err := h.loaded(); done {
		return instance, err
	}

	h.setState(StateLoading)
	log.Emit(logger.NEW, "Loading media engine...\n")

	ctx, cancel := h.loadContext()
	defer cancel()

	instance, err := h.loader(ctx, h.events)
	if err == nil && instance == nil {
		err = ErrEngineLoad
	}
	if err != nil {
		loadErr := &LoadError{Err: err}

		h.mu.Lock()
		h.loadErr = loadErr
		h.mu.Unlock()

		metrics.EngineLoads.WithLabelValues("failure").Inc()
		log.Errorf("Media engine failed to load: %v\n", err)
		h.setState(StateFailed)
		return nil, loadErr
	}

	instance.Subscribe(h.events.Emit)

	h.mu.Lock()
	h.instance = instance
	h.mu.Unlock()

	metrics.EngineLoads.WithLabelValues("success").Inc()
	log.Successf("Media engine loaded\n")
	h.setState(StateReady)
	return instance, nil
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	h.state = state
	listener := h.stateListener
	h.mu.Unlock()

	if listener != nil {
		listener(state)
	}
}
