package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/engine/enginetest"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

// gatedLoader returns a loader which blocks until the returned gate is
// closed, and a counter of how many times the loader was invoked.
func gatedLoader(instance engine.Engine, err error) (engine.Loader, chan struct{}, *atomic.Int32) {
	gate := make(chan struct{})
	calls := &atomic.Int32{}

	return func(_ context.Context, emit *engine.Dispatcher) (engine.Engine, error) {
		calls.Add(1)
		emit.EmitLog("loading")
		<-gate
		if err != nil {
			return nil, err
		}

		return instance, nil
	}, gate, calls
}

func TestAcquire_ConcurrentCallersShareOneLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := enginetest.NewFake()
	loader, gate, calls := gatedLoader(fake, nil)
	handle := engine.NewHandle(loader)

	const callers = 12
	results := make(chan engine.Engine, callers)
	wg := sync.WaitGroup{}
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			instance, err := handle.Acquire(context.Background())
			assert.NoError(t, err)
			results <- instance
		}()
	}

	// Give the callers a moment to pile up behind the in-flight load
	time.Sleep(20 * time.Millisecond)
	assert.False(t, handle.IsReady())
	assert.Equal(t, engine.StateLoading, handle.State())

	close(gate)
	wg.Wait()
	close(results)

	for instance := range results {
		assert.Same(t, fake, instance)
	}
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, handle.IsReady())

	// Subsequent acquisitions use the cached instance
	instance, err := handle.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, fake, instance)
	assert.EqualValues(t, 1, calls.Load())
}

func TestAcquire_LoadFailureIsStickyUntilReset(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader, gate, calls := gatedLoader(nil, errExpected)
	close(gate)
	handle := engine.NewHandle(loader)

	_, err := handle.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEngineLoad)
	assert.ErrorIs(t, err, errExpected)

	var loadErr *engine.LoadError
	assert.ErrorAs(t, err, &loadErr)

	_, err = handle.Acquire(context.Background())
	assert.ErrorIs(t, err, engine.ErrEngineLoad)
	assert.EqualValues(t, 1, calls.Load(), "failed load must not be retried implicitly")
	assert.Equal(t, engine.StateFailed, handle.State())

	assert.True(t, handle.Reset())
	assert.Equal(t, engine.StateUnloaded, handle.State())

	_, err = handle.Acquire(context.Background())
	assert.ErrorIs(t, err, engine.ErrEngineLoad)
	assert.EqualValues(t, 2, calls.Load())
}

func TestReset_NoopWhenReady(t *testing.T) {
	fake := enginetest.NewFake()
	handle := engine.NewHandle(fake.Loader())

	assert.False(t, handle.Reset())
	_, err := handle.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, handle.Reset())
	assert.True(t, handle.IsReady())
}

func TestAcquire_CallerCancellationDoesNotAbortLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := enginetest.NewFake()
	loader, gate, calls := gatedLoader(fake, nil)
	handle := engine.NewHandle(loader)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := handle.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	instance, err := handle.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, fake, instance)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExclusive_SerialisesExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := enginetest.NewFake()
	handle := engine.NewHandle(fake.Loader())

	var active, maxActive atomic.Int32
	wg := sync.WaitGroup{}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := handle.Exclusive(context.Background(), func(engine.Engine) error {
				now := active.Add(1)
				for {
					seen := maxActive.Load()
					if now <= seen || maxActive.CompareAndSwap(seen, now) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestExclusive_PropagatesLoadError(t *testing.T) {
	loader, gate, _ := gatedLoader(nil, errExpected)
	close(gate)
	handle := engine.NewHandle(loader)

	called := false
	err := handle.Exclusive(context.Background(), func(engine.Engine) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, engine.ErrEngineLoad)
	assert.False(t, called)
}

func TestSubscribe_ForwardsLoadAndEngineEvents(t *testing.T) {
	fake := enginetest.NewFake()
	loader, gate, _ := gatedLoader(fake, nil)
	close(gate)

	var states []engine.State
	handle := engine.NewHandle(loader, engine.WithStateListener(func(s engine.State) { states = append(states, s) }))

	mu := sync.Mutex{}
	var received []engine.Event
	unsubscribe := handle.Subscribe(func(ev engine.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
	})

	_, err := handle.Acquire(context.Background())
	require.NoError(t, err)

	fake.EmitProgress(0.5)
	unsubscribe()
	fake.EmitLog("after unsubscribe")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, engine.Event{Kind: engine.LogEvent, Line: "loading"}, received[0])
	assert.Equal(t, engine.Event{Kind: engine.ProgressEvent, Ratio: 0.5}, received[1])
	assert.Equal(t, []engine.State{engine.StateLoading, engine.StateReady}, states)
}

func TestLoaderReturningNilEngineFails(t *testing.T) {
	handle := engine.NewHandle(func(context.Context, *engine.Dispatcher) (engine.Engine, error) { return nil, nil })

	_, err := handle.Acquire(context.Background())
	assert.ErrorIs(t, err, engine.ErrEngineLoad)
}
