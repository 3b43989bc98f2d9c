// Package enginetest provides an in-memory Engine for use in tests of
// packages which drive the media engine.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hbomb79/anyvid/internal/engine"
)

type (
	// ExecFunc scripts the behaviour of a Fake's Exec. It may emit events
	// and manipulate files via the provided Fake.
	ExecFunc func(ctx context.Context, fake *Fake, args []string) error

	// Fake is an engine.Engine whose virtual file system is a map and
	// whose Exec behaviour is scripted. The zero ExecFunc copies the input
	// file to the output file, emitting progress along the way.
	Fake struct {
		mu      sync.Mutex
		files   map[string][]byte
		execs   [][]string
		events  *engine.Dispatcher
		execFn  ExecFunc
		probeFn func(string) (time.Duration, error)
	}
)

func NewFake() *Fake {
	return &Fake{
		files:  make(map[string][]byte),
		events: engine.NewDispatcher(),
		probeFn: func(string) (time.Duration, error) {
			return time.Minute, nil
		},
	}
}

// Loader returns a loader which yields this fake.
func (f *Fake) Loader() engine.Loader {
	return func(_ context.Context, _ *engine.Dispatcher) (engine.Engine, error) { return f, nil }
}

func (f *Fake) OnExec(fn ExecFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execFn = fn
}

func (f *Fake) OnProbe(fn func(string) (time.Duration, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeFn = fn
}

func (f *Fake) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[name] = append([]byte(nil), data...)
	return nil
}

func (f *Fake) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrFileNotFound, name)
	}

	return append([]byte(nil), data...), nil
}

func (f *Fake) DeleteFile(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, name)
	return nil
}

func (f *Fake) Exec(ctx context.Context, args []string) error {
	f.mu.Lock()
	f.execs = append(f.execs, append([]string(nil), args...))
	fn := f.execFn
	f.mu.Unlock()

	if fn == nil {
		fn = CopyInput
	}

	return fn(ctx, f, args)
}

func (f *Fake) Probe(name string) (time.Duration, error) {
	f.mu.Lock()
	fn := f.probeFn
	f.mu.Unlock()

	return fn(name)
}

func (f *Fake) Subscribe(listener engine.Listener) func() {
	return f.events.Subscribe(listener)
}

func (f *Fake) EmitLog(line string)    { f.events.EmitLog(line) }
func (f *Fake) EmitProgress(r float64) { f.events.EmitProgress(r) }

// Files returns the sorted names of all files currently stored.
func (f *Fake) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Execs returns the argument lists of every Exec call so far.
func (f *Fake) Execs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]string(nil), f.execs...)
}

// CopyInput is the default ExecFunc. The file following '-i' is copied to
// the final argument, with a log line and progress emitted before and after.
func CopyInput(_ context.Context, fake *Fake, args []string) error {
	input := ArgAfter(args, "-i")
	output := args[len(args)-1]

	data, err := fake.ReadFile(input)
	if err != nil {
		return err
	}

	fake.EmitLog("frame=1 time=00:00:00.00")
	fake.EmitProgress(0.5)
	fake.EmitProgress(1)
	return fake.WriteFile(output, data)
}

// ArgAfter returns the argument immediately following flag, or an empty
// string if the flag is absent.
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}

	return ""
}
