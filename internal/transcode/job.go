package transcode

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type (
	State int

	FailureReason string

	// Source is the user-supplied media a job operates on.
	Source struct {
		Name string
		Data []byte
	}

	// Artifact is the output produced by a successful job.
	Artifact struct {
		Name string
		Ext  string
		MIME string
		Data []byte
	}

	// Failure describes why a job failed. Message is safe to show to
	// users, Err is the underlying cause and is for logs only.
	Failure struct {
		Reason  FailureReason
		Message string
		Err     error
	}

	// Job is a single Convert or Trim run over a source. All accessors are
	// safe for concurrent use, as jobs are read by API handlers while the
	// runner mutates them.
	Job struct {
		mu         sync.Mutex
		id         uuid.UUID
		source     Source
		operation  Operation
		state      State
		progress   int
		logs       *logTail
		artifact   *Artifact
		failure    *Failure
		generation int
		cancelled  bool
		cancel     context.CancelFunc

		createdAt  time.Time
		startedAt  time.Time
		finishedAt time.Time
	}

	// Snapshot is an immutable, point-in-time copy of a jobs public state.
	Snapshot struct {
		ID         uuid.UUID
		SourceName string
		SourceSize int
		Operation  Operation
		State      State
		Progress   int
		Logs       []string
		Failure    *Failure
		Output     *ArtifactInfo
		CreatedAt  time.Time
		StartedAt  time.Time
		FinishedAt time.Time
	}

	ArtifactInfo struct {
		Name string
		Ext  string
		MIME string
		Size int
	}
)

const (
	Idle State = iota
	Loading
	Running
	Succeeded
	Failed
)

const (
	ExecutionFailure  FailureReason = "execution"
	EngineLoadFailure FailureReason = "engine_load"
	CancelledFailure  FailureReason = "cancelled"
)

var allowedTransitions = map[State][]State{
	Idle:    {Loading, Running, Failed},
	Loading: {Running, Failed},
	Running: {Succeeded, Failed},
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}

	return fmt.Sprintf("UNKNOWN[%d]", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s State) IsTerminal() bool { return s == Succeeded || s == Failed }

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newJob(source Source, operation Operation, logTailSize int) *Job {
	return &Job{
		id:        uuid.New(),
		source:    source,
		operation: operation,
		state:     Idle,
		logs:      newLogTail(logTailSize),
		createdAt: time.Now(),
	}
}

func (job *Job) ID() uuid.UUID { return job.id }

func (job *Job) State() State {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.state
}

func (job *Job) Progress() int {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress
}

func (job *Job) Logs() []string {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.logs.snapshot()
}

// Artifact returns the jobs output, which is only present once the job
// has succeeded.
func (job *Job) Artifact() *Artifact {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.artifact
}

func (job *Job) Failure() *Failure {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.failure
}

func (job *Job) Operation() Operation { return job.operation }

func (job *Job) Snapshot() Snapshot {
	job.mu.Lock()
	defer job.mu.Unlock()

	snap := Snapshot{
		ID:         job.id,
		SourceName: job.source.Name,
		SourceSize: len(job.source.Data),
		Operation:  job.operation,
		State:      job.state,
		Progress:   job.progress,
		Logs:       job.logs.snapshot(),
		Failure:    job.failure,
		CreatedAt:  job.createdAt,
		StartedAt:  job.startedAt,
		FinishedAt: job.finishedAt,
	}
	if job.artifact != nil {
		snap.Output = &ArtifactInfo{Name: job.artifact.Name, Ext: job.artifact.Ext, MIME: job.artifact.MIME, Size: len(job.artifact.Data)}
	}

	return snap
}

func (job *Job) String() string {
	return fmt.Sprintf("Job{ID=%s Operation=%s State=%s}", job.id, job.operation.Kind(), job.State())
}

// inputName and outputName are the virtual file names used while this
// job is being processed by the engine.
func (job *Job) inputName() string {
	ext := strings.TrimPrefix(filepath.Ext(job.source.Name), ".")
	if ext == "" {
		ext = "bin"
	}

	return fmt.Sprintf("%s-input.%s", job.id, strings.ToLower(ext))
}

func (job *Job) outputName() string {
	return fmt.Sprintf("%s-output.%s", job.id, job.operation.OutputExt())
}

// transition moves the job to the target state if the state machine allows it.
// Must be called with the job lock held.
func (job *Job) transition(to State) error {
	for _, allowed := range allowedTransitions[job.state] {
		if allowed == to {
			job.state = to
			return nil
		}
	}

	return fmt.Errorf("illegal job state transition %s -> %s", job.state, to)
}

// begin claims an Idle job for execution. It returns false if the job is no
// longer Idle, or has been reset since it was queued.
func (job *Job) begin(generation int, cancel context.CancelFunc) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.state != Idle || job.generation != generation {
		return false
	}

	job.cancel = cancel
	job.startedAt = time.Now()
	return true
}

func (job *Job) advance(to State) error {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.cancelled {
		return ErrCancelled
	}

	return job.transition(to)
}

// applyProgress records a new progress ratio (0-1), returning true if the
// visible progress changed. Progress never decreases and is ignored unless the
// job is Running and has not been cancelled.
func (job *Job) applyProgress(ratio float64) bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.state != Running || job.cancelled || math.IsNaN(ratio) {
		return false
	}

	pct := int(math.Round(math.Max(0, math.Min(1, ratio)) * 100))
	if pct <= job.progress {
		return false
	}

	job.progress = pct
	return true
}

func (job *Job) appendLog(line string) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.logs.push(line)
}

// succeed moves a Running job to Succeeded. If the job was cancelled before
// the result arrived, the artifact is discarded and the job fails instead.
func (job *Job) succeed(artifact *Artifact) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.cancelled {
		job.failLocked(cancelledFailure())
		return
	}

	if err := job.transition(Succeeded); err != nil {
		job.failLocked(&Failure{Reason: ExecutionFailure, Message: executionFailureMessage, Err: err})
		return
	}

	job.artifact = artifact
	job.progress = 100
	job.finishedAt = time.Now()
	job.cancel = nil
}

func (job *Job) fail(failure *Failure) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.cancelled {
		failure = cancelledFailure()
	}

	job.failLocked(failure)
}

func (job *Job) failLocked(failure *Failure) {
	if job.state.IsTerminal() {
		return
	}

	job.state = Failed
	job.failure = failure
	job.finishedAt = time.Now()
	job.cancel = nil
	if failure.Reason == ExecutionFailure && failure.Err != nil {
		job.logs.push(failure.Err.Error())
	}
}

// requestCancel marks the job as cancelled. Idle jobs fail immediately, while
// active jobs have their execution context cancelled and are failed by the
// runner. It returns false if the job had already finished.
func (job *Job) requestCancel() bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.state.IsTerminal() {
		return false
	}

	job.cancelled = true
	if job.cancel != nil {
		job.cancel()
	}

	if job.state == Idle && job.cancel == nil {
		job.failLocked(cancelledFailure())
	}

	return true
}

// reset returns a terminal job to Idle, clearing its previous results so it
// may be queued again. The generation is bumped so that stale queue entries
// for this job are ignored.
func (job *Job) reset() (int, error) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if !job.state.IsTerminal() {
		return 0, ErrJobNotTerminal
	}

	job.state = Idle
	job.progress = 0
	job.logs.clear()
	job.artifact = nil
	job.failure = nil
	job.cancelled = false
	job.cancel = nil
	job.startedAt = time.Time{}
	job.finishedAt = time.Time{}
	job.generation++

	return job.generation, nil
}

// finished returns the time the job reached a terminal state, if it has.
func (job *Job) finished() (time.Time, bool) {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.finishedAt, job.state.IsTerminal()
}

func (job *Job) isCancelled() bool {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.cancelled
}

func cancelledFailure() *Failure {
	return &Failure{Reason: CancelledFailure, Message: cancelledFailureMessage, Err: ErrCancelled}
}

// logTail retains the most recent N log lines.
type logTail struct {
	size  int
	lines []string
}

func newLogTail(size int) *logTail {
	if size < 0 {
		size = 0
	}

	return &logTail{size: size, lines: make([]string, 0, size)}
}

func (t *logTail) push(line string) {
	if t.size == 0 {
		return
	}

	if len(t.lines) == t.size {
		t.lines = append(t.lines[:0], t.lines[1:]...)
	}
	t.lines = append(t.lines, line)
}

func (t *logTail) clear() { t.lines = t.lines[:0] }

func (t *logTail) snapshot() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
