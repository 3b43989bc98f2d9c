package engine

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFfmpegLoader_MissingBinaryFails(t *testing.T) {
	loader := NewFfmpegLoader(Config{
		FfmpegBinaryPath: filepath.Join(t.TempDir(), "does-not-exist"),
		WorkspaceDir:     t.TempDir(),
	})

	_, err := loader(context.Background(), NewDispatcher())
	assert.Error(t, err)
}

func TestPrepareWorkspace_CreatesSession(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "workspace")

	session, err := prepareWorkspace(root)
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(session))

	info, err := os.Stat(session)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestVirtualFiles(t *testing.T) {
	e := &ffmpegEngine{workspace: t.TempDir(), events: NewDispatcher()}

	require.NoError(t, e.WriteFile("a-input.mp4", []byte("data")))
	data, err := e.ReadFile("a-input.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, e.DeleteFile("a-input.mp4"))
	_, err = e.ReadFile("a-input.mp4")
	assert.ErrorIs(t, err, ErrFileNotFound)

	// Deleting a missing file is harmless
	assert.NoError(t, e.DeleteFile("a-input.mp4"))

	assert.ErrorIs(t, e.WriteFile("../escape.mp4", []byte("x")), ErrInvalidFileName)
}

func TestConsumeOutput_EmitsLogsAndProgress(t *testing.T) {
	events := NewDispatcher()
	mu := sync.Mutex{}
	var logs []string
	var ratios []float64
	events.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case LogEvent:
			logs = append(logs, ev.Line)
		case ProgressEvent:
			ratios = append(ratios, ev.Ratio)
		}
	})

	e := &ffmpegEngine{events: events}
	output := "Input #0, mov\r\n  Duration: 00:00:10.00, start: 0.000000\n\nframe=1 time=00:00:05.00 bitrate=1kbits/s\r"
	err := e.consumeOutput(strings.NewReader(output), newProgressTracker(nil), newLineTail(2))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Input #0, mov", "Duration: 00:00:10.00, start: 0.000000", "frame=1 time=00:00:05.00 bitrate=1kbits/s"}, logs)
	assert.Equal(t, []float64{0.5}, ratios)
}

func TestConsumeOutput_DrainsAfterOversizedLine(t *testing.T) {
	reader := strings.NewReader("first\n" + strings.Repeat("x", bufio.MaxScanTokenSize+1) + "\nlast\n")

	e := &ffmpegEngine{events: NewDispatcher()}
	err := e.consumeOutput(reader, newProgressTracker(nil), newLineTail(4))
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Zero(t, reader.Len(), "remaining output must be drained so the writer never blocks")
}
