package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/mitchellh/go-homedir"
)

const execOutputTailSize = 8

type Config struct {
	FfmpegBinaryPath  string `yaml:"ffmpeg_binary_path" env:"ENGINE_FFMPEG_BINARY_PATH"`
	FfprobeBinaryPath string `yaml:"ffprobe_binary_path" env:"ENGINE_FFPROBE_BINARY_PATH"`
	WorkspaceDir      string `yaml:"workspace_dir" env:"ENGINE_WORKSPACE_DIR" env-default:"~/.cache/anyvid/engine"`
	LoadTimeoutSecs   int    `yaml:"load_timeout_seconds" env:"ENGINE_LOAD_TIMEOUT_SECONDS" env-default:"30"`
}

func (c Config) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSecs) * time.Second
}

// ffmpegEngine is the Engine implementation backed by an ffmpeg installation
// on the host. Its virtual file system is a private scratch directory.
type ffmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	workspace   string
	events      *Dispatcher
}

// NewFfmpegLoader returns a Loader which resolves the ffmpeg binaries
// described by the config, verifies that ffmpeg can be executed, and
// prepares a fresh workspace directory for the virtual file system.
func NewFfmpegLoader(config Config) Loader {
	return func(ctx context.Context, emit *Dispatcher) (Engine, error) {
		emit.EmitProgress(0)

		ffmpegPath, err := resolveBinary(config.FfmpegBinaryPath, "ffmpeg")
		if err != nil {
			return nil, err
		}
		emit.EmitLog(fmt.Sprintf("resolved ffmpeg binary at %s", ffmpegPath))
		emit.EmitProgress(0.25)

		ffprobePath, err := resolveBinary(config.FfprobeBinaryPath, "ffprobe")
		if err != nil {
			return nil, err
		}
		emit.EmitLog(fmt.Sprintf("resolved ffprobe binary at %s", ffprobePath))
		emit.EmitProgress(0.5)

		version, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-version").Output()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg capability check failed: %w", err)
		}
		if first, _, _ := strings.Cut(string(version), "\n"); first != "" {
			emit.EmitLog(strings.TrimSpace(first))
		}
		emit.EmitProgress(0.75)

		workspace, err := prepareWorkspace(config.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		emit.EmitLog(fmt.Sprintf("engine workspace ready at %s", workspace))
		emit.EmitProgress(1)

		return &ffmpegEngine{
			ffmpegPath:  ffmpegPath,
			ffprobePath: ffprobePath,
			workspace:   workspace,
			events:      NewDispatcher(),
		}, nil
	}
}

func resolveBinary(configured string, name string) (string, error) {
	if configured != "" {
		expanded, err := homedir.Expand(configured)
		if err != nil {
			return "", fmt.Errorf("failed to expand %s binary path %q: %w", name, configured, err)
		}

		if _, err := os.Stat(expanded); err != nil {
			return "", fmt.Errorf("%s binary not found at configured path %q: %w", name, expanded, err)
		}

		return expanded, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s binary not found on PATH: %w", name, err)
	}

	return path, nil
}

// prepareWorkspace creates a new session directory inside the configured
// workspace root. Each process gets its own session so that files left
// behind by a previous crash can never collide with new jobs.
func prepareWorkspace(root string) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("failed to expand workspace path %q: %w", root, err)
	}

	if err := os.MkdirAll(expanded, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create workspace root %q: %w", expanded, err)
	}

	session, err := os.MkdirTemp(expanded, "session-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace session: %w", err)
	}

	return session, nil
}

func (e *ffmpegEngine) path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	return filepath.Join(e.workspace, name), nil
}

func (e *ffmpegEngine) WriteFile(name string, data []byte) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}

	return os.WriteFile(p, data, 0o600)
}

func (e *ffmpegEngine) ReadFile(name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	return data, err
}

// DeleteFile removes the named file. Deleting a file which does not exist
// is not an error.
func (e *ffmpegEngine) DeleteFile(name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (e *ffmpegEngine) Subscribe(listener Listener) func() {
	return e.events.Subscribe(listener)
}

// Exec runs ffmpeg inside the workspace, so arguments refer to virtual files
// by their plain names. Every line ffmpeg writes to stderr is emitted as a log
// event, and progress is emitted whenever a status line advances it.
func (e *ffmpegEngine) Exec(ctx context.Context, args []string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	cmd.Dir = e.workspace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ExecError{Err: err}
	}

	log.Debugf("Executing %s %s\n", e.ffmpegPath, strings.Join(full, " "))
	if err := cmd.Start(); err != nil {
		return &ExecError{Err: err}
	}

	tail := newLineTail(execOutputTailSize)
	if err := e.consumeOutput(stderr, newProgressTracker(args), tail); err != nil {
		log.Warnf("Stopped parsing ffmpeg output: %v\n", err)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg execution interrupted: %w", ctx.Err())
	}
	if waitErr != nil {
		return &ExecError{Err: waitErr, Output: tail.snapshot()}
	}

	e.events.EmitProgress(1)
	return nil
}

// consumeOutput emits a log event for every line read, and a progress event
// whenever a line advances the tracker. If a line cannot be tokenised the
// remainder is discarded rather than left unread, so that ffmpeg never
// blocks writing to a full pipe.
func (e *ffmpegEngine) consumeOutput(r io.Reader, tracker *progressTracker, tail *lineTail) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesWithCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tail.push(line)
		e.events.EmitLog(line)
		if ratio, ok := tracker.observe(line); ok {
			e.events.EmitProgress(ratio)
		}
	}

	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}

	return nil
}

// Probe uses ffprobe to find the duration of the named file.
func (e *ffmpegEngine) Probe(name string) (time.Duration, error) {
	p, err := e.path(name)
	if err != nil {
		return 0, err
	}

	cfg := &ffmpeg.Config{FfmpegBinPath: e.ffmpegPath, FfprobeBinPath: e.ffprobePath}
	metadata, err := ffmpeg.New(cfg).Input(p).GetMetadata()
	if err != nil {
		return 0, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	duration, ok := parseSeconds(metadata.GetFormat().GetDuration())
	if !ok {
		return 0, fmt.Errorf("ffprobe reported unusable duration %q for %s", metadata.GetFormat().GetDuration(), name)
	}

	return duration, nil
}
