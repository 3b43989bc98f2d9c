// Package engine owns the media engine used to perform all local
// transcoding. The engine is expensive to bring up, so a single instance
// is loaded lazily by a Handle and shared for the life of the process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("Engine")

var (
	// ErrEngineLoad is matched (via errors.Is) by every error returned
	// when the engine could not be brought up.
	ErrEngineLoad = errors.New("media engine failed to load")

	ErrInvalidFileName = errors.New("invalid virtual file name")
	ErrFileNotFound    = errors.New("virtual file not found")
)

type (
	// Engine is the command-driven media processor. Files are exchanged
	// with the engine by name through its virtual file system: they must be
	// written before an Exec references them, and outputs are read back
	// afterwards.
	Engine interface {
		WriteFile(name string, data []byte) error
		ReadFile(name string) ([]byte, error)
		DeleteFile(name string) error

		// Exec runs the engine with the given command-line style arguments,
		// blocking until the command exits or ctx is cancelled. Log and
		// progress events are delivered to subscribers while it runs.
		Exec(ctx context.Context, args []string) error

		// Probe returns the playback duration of the named virtual file.
		Probe(name string) (time.Duration, error)

		Subscribe(Listener) (unsubscribe func())
	}

	EventKind int

	// Event is emitted by the engine during load and during command execution.
	// Log events carry a free-text Line, progress events carry a Ratio in
	// the range [0, 1].
	Event struct {
		Kind  EventKind
		Line  string
		Ratio float64
	}

	Listener func(Event)

	// LoadError wraps the underlying reason the engine could not be loaded.
	LoadError struct {
		Err error
	}

	// ExecError is returned when the engine ran the command but it exited
	// unsuccessfully. Output contains the final lines the engine logged.
	ExecError struct {
		Err    error
		Output []string
	}
)

const (
	LogEvent EventKind = iota
	ProgressEvent
)

func (k EventKind) String() string {
	switch k {
	case LogEvent:
		return "log"
	case ProgressEvent:
		return "progress"
	}

	return fmt.Sprintf("UNKNOWN[%d]", int(k))
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", ErrEngineLoad, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrEngineLoad }

func (e *ExecError) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("engine command failed: %v", e.Err)
	}

	return fmt.Sprintf("engine command failed: %v (%s)", e.Err, e.Output[len(e.Output)-1])
}

func (e *ExecError) Unwrap() error { return e.Err }

// Dispatcher fans engine events out to any number of subscribed
// listeners. Listeners are invoked synchronously on the emitting
// goroutine and must return quickly.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[int]Listener)}
}

// Subscribe registers the listener and returns a function which removes it.
// Calling the returned function more than once is harmless.
func (d *Dispatcher) Subscribe(listener Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = listener

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Dispatcher) Emit(event Event) {
	d.mu.RLock()
	listeners := make([]Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

func (d *Dispatcher) EmitLog(line string) {
	d.Emit(Event{Kind: LogEvent, Line: line})
}

func (d *Dispatcher) EmitProgress(ratio float64) {
	d.Emit(Event{Kind: ProgressEvent, Ratio: ratio})
}

// validateName ensures a virtual file name is a plain, flat file name.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}

	return nil
}
