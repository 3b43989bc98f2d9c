package transcode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/pkg/logger"
	psync "github.com/hbomb79/anyvid/pkg/sync"
)

var log = logger.Get("TranscodeServ")

type (
	// EngineHandle is the subset of the engine handle the service relies on.
	EngineHandle interface {
		IsReady() bool
		Exclusive(context.Context, func(engine.Engine) error) error
		Subscribe(engine.Listener) func()
	}

	// Service owns every transcode job known to AnyVid. Jobs are executed
	// strictly one at a time, in submission order, by a single runner
	// goroutine started via Run.
	Service struct {
		config   Config
		engine   EngineHandle
		eventBus event.EventDispatcher

		jobs     psync.TypedSyncMap[uuid.UUID, *Job]
		submitMu sync.Mutex
		queue    chan queuedJob
		current  atomic.Pointer[Job]
	}

	queuedJob struct {
		job        *Job
		generation int
	}
)

func New(config Config, handle EngineHandle, eventBus event.EventDispatcher) (*Service, error) {
	if config.QueueSize <= 0 {
		return nil, fmt.Errorf("transcode queue size must be positive (got %d)", config.QueueSize)
	}
	if config.MaxFinishedJobs < 0 {
		return nil, fmt.Errorf("transcode max finished jobs must not be negative (got %d)", config.MaxFinishedJobs)
	}
	if config.LogTailSize < 0 {
		return nil, fmt.Errorf("transcode log tail size must not be negative (got %d)", config.LogTailSize)
	}

	return &Service{
		config:   config,
		engine:   handle,
		eventBus: eventBus,
		queue:    make(chan queuedJob, config.QueueSize),
	}, nil
}

// Run is the main entry point for this service, and blocks until the
// provided context is cancelled. Any job running at the time is cancelled.
func (service *Service) Run(ctx context.Context) error {
	unsubscribe := service.engine.Subscribe(service.handleEngineEvent)
	defer unsubscribe()

	for {
		select {
		case queued := <-service.queue:
			metrics.JobQueueDepth.Set(float64(len(service.queue)))
			service.execute(ctx, queued)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down (context cancelled)\n")
			return nil
		}
	}
}

func (service *Service) Config() Config { return service.config }

// NewJob validates and queues a new job for the source and operation given.
func (service *Service) NewJob(source Source, operation Operation) (*Job, error) {
	if len(source.Data) == 0 {
		return nil, fmt.Errorf("%w: source file is empty", ErrInvalidInput)
	}
	if service.config.MaxUploadBytes > 0 && int64(len(source.Data)) > service.config.MaxUploadBytes {
		return nil, fmt.Errorf("%w: source file exceeds %d bytes", ErrInvalidInput, service.config.MaxUploadBytes)
	}
	if operation == nil {
		return nil, fmt.Errorf("%w: no operation specified", ErrInvalidInput)
	}
	if err := operation.Validate(); err != nil {
		return nil, err
	}

	// The job is announced before it is queued so that observers always
	// see it Idle before the runner can claim it.
	job := newJob(source, operation, service.config.LogTailSize)
	service.jobs.Store(job.id, job)
	service.eventBus.Dispatch(event.JOB_UPDATE, job.id)

	if err := service.enqueue(job, func() (int, error) { return 0, nil }); err != nil {
		service.jobs.Delete(job.id)
		service.eventBus.Dispatch(event.JOB_REMOVED, job.id)
		return nil, err
	}

	metrics.JobsSubmitted.WithLabelValues(string(operation.Kind())).Inc()
	log.Emit(logger.NEW, "Queued %s\n", job)
	return job, nil
}

// Job returns the job with the given ID, if one exists.
func (service *Service) Job(id uuid.UUID) (*Job, bool) {
	return service.jobs.Load(id)
}

// AllJobs returns every known job, oldest first.
func (service *Service) AllJobs() []*Job {
	jobs := service.jobs.Values()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].createdAt.Before(jobs[j].createdAt) })
	return jobs
}

// CancelJob cancels the job with the given ID. Queued jobs fail immediately,
// running jobs have their engine command interrupted. Cancelling a job which
// has already finished has no effect.
func (service *Service) CancelJob(id uuid.UUID) error {
	job, ok := service.jobs.Load(id)
	if !ok {
		return ErrJobNotFound
	}

	if job.requestCancel() {
		log.Emit(logger.STOP, "Cancelled %s\n", job)
		service.eventBus.Dispatch(event.JOB_UPDATE, id)
	}

	return nil
}

// RetryJob resets a finished job back to Idle and queues it again with the
// same source and operation.
func (service *Service) RetryJob(id uuid.UUID) error {
	job, ok := service.jobs.Load(id)
	if !ok {
		return ErrJobNotFound
	}

	// The registry is re-checked under submitMu, as the job may have been
	// removed since it was loaded.
	err := service.enqueue(job, func() (int, error) {
		if current, ok := service.jobs.Load(id); !ok || current != job {
			return 0, ErrJobNotFound
		}

		return job.reset()
	})
	if err != nil {
		return err
	}

	log.Emit(logger.NEW, "Re-queued %s\n", job)
	service.eventBus.Dispatch(event.JOB_UPDATE, id)
	return nil
}

// RemoveJob discards a finished job and its artifact.
func (service *Service) RemoveJob(id uuid.UUID) error {
	job, err := service.detach(id)
	if err != nil {
		return err
	}

	log.Emit(logger.REMOVE, "Removed %s\n", job)
	service.eventBus.Dispatch(event.JOB_REMOVED, id)
	return nil
}

// detach deletes a terminal job from the registry. Jobs only leave a
// terminal state via a retry, which resets them while holding submitMu, so
// holding it here keeps the state check and the delete consistent.
func (service *Service) detach(id uuid.UUID) (*Job, error) {
	service.submitMu.Lock()
	defer service.submitMu.Unlock()

	job, ok := service.jobs.Load(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	if !job.State().IsTerminal() {
		return nil, ErrJobNotTerminal
	}
	if !service.jobs.CompareAndDelete(id, job) {
		return nil, ErrJobNotFound
	}

	return job, nil
}

// evictFinished removes the oldest finished jobs once more than
// MaxFinishedJobs are retained, releasing their source and output data.
func (service *Service) evictFinished() {
	limit := service.config.MaxFinishedJobs
	if limit <= 0 {
		return
	}

	type finishedJob struct {
		id uuid.UUID
		at time.Time
	}

	finished := make([]finishedJob, 0)
	for _, job := range service.jobs.Values() {
		if at, ok := job.finished(); ok {
			finished = append(finished, finishedJob{id: job.id, at: at})
		}
	}
	if len(finished) <= limit {
		return
	}

	sort.Slice(finished, func(i, j int) bool { return finished[i].at.Before(finished[j].at) })
	for _, f := range finished[:len(finished)-limit] {
		if err := service.RemoveJob(f.id); err != nil {
			log.Emit(logger.DEBUG, "Skipping eviction of job %s: %v\n", f.id, err)
		}
	}
}

// enqueue places the job on the queue. The prepare function is called only
// once it is known the queue has capacity, and returns the generation the
// queued entry is valid for. Only submitters send on the queue, so a free slot
// observed under the lock cannot be taken by anyone else.
func (service *Service) enqueue(job *Job, prepare func() (int, error)) error {
	service.submitMu.Lock()
	defer service.submitMu.Unlock()

	if len(service.queue) >= cap(service.queue) {
		return ErrQueueFull
	}

	generation, err := prepare()
	if err != nil {
		return err
	}

	service.queue <- queuedJob{job: job, generation: generation}
	metrics.JobQueueDepth.Set(float64(len(service.queue)))
	return nil
}

// execute runs a single queued job through the engine and records the outcome.
func (service *Service) execute(parent context.Context, queued queuedJob) {
	job := queued.job
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !job.begin(queued.generation, cancel) {
		log.Emit(logger.DEBUG, "Skipping stale queue entry for %s\n", job)
		return
	}

	service.current.Store(job)
	defer service.current.Store(nil)

	if !service.engine.IsReady() {
		_ = service.advance(job, Loading)
	}

	started := time.Time{}
	var artifact *Artifact
	err := service.engine.Exclusive(ctx, func(eng engine.Engine) error {
		if err := service.advance(job, Running); err != nil {
			return err
		}

		started = time.Now()
		out, err := service.process(ctx, eng, job)
		artifact = out
		return err
	})

	var ran time.Duration
	if !started.IsZero() {
		ran = time.Since(started)
	}

	if err == nil {
		job.succeed(artifact)
	} else {
		job.fail(classifyFailure(ctx, err))
	}

	snap := job.Snapshot()
	reason := ""
	if snap.Failure != nil {
		reason = string(snap.Failure.Reason)
		log.Warnf("%s concluded with failure: %v\n", job, snap.Failure)
	} else {
		log.Successf("%s concluded successfully\n", job)
	}

	metrics.RecordJobFinished(string(job.operation.Kind()), snap.State.String(), reason, ran)
	service.eventBus.Dispatch(event.JOB_UPDATE, job.id)
	service.evictFinished()
}

func (service *Service) advance(job *Job, to State) error {
	if err := job.advance(to); err != nil {
		return err
	}

	service.eventBus.Dispatch(event.JOB_UPDATE, job.id)
	return nil
}

// process performs the write -> exec -> read sequence for the job. The
// jobs virtual files are always deleted before returning.
func (service *Service) process(ctx context.Context, eng engine.Engine, job *Job) (*Artifact, error) {
	input, output := job.inputName(), job.outputName()
	defer func() {
		for _, name := range []string{input, output} {
			if err := eng.DeleteFile(name); err != nil {
				log.Warnf("Failed to delete virtual file %s for %s: %v\n", name, job, err)
			}
		}
	}()

	if err := eng.WriteFile(input, job.source.Data); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	operation := job.operation
	if trim, ok := operation.(TrimOperation); ok && trim.Fractional {
		duration, err := eng.Probe(input)
		if err != nil {
			return nil, fmt.Errorf("failed to probe input duration: %w", err)
		}

		resolved, err := trim.Resolve(duration)
		if err != nil {
			return nil, err
		}
		operation = resolved
	}

	args := operation.Arguments(input, output)
	log.Emit(logger.DEBUG, "Executing %s with args %v\n", job, args)
	if err := eng.Exec(ctx, args); err != nil {
		return nil, err
	}

	data, err := eng.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	ext := job.operation.OutputExt()
	return &Artifact{
		Name: job.operation.OutputName(job.source.Name),
		Ext:  ext,
		MIME: MIMEType(ext),
		Data: data,
	}, nil
}

// handleEngineEvent routes engine events to the job currently executing.
// Events arriving while no job is executing (e.g. a warmup load) are dropped.
func (service *Service) handleEngineEvent(ev engine.Event) {
	job := service.current.Load()
	if job == nil {
		return
	}

	switch ev.Kind {
	case engine.LogEvent:
		job.appendLog(ev.Line)
	case engine.ProgressEvent:
		if job.applyProgress(ev.Ratio) {
			service.eventBus.Dispatch(event.JOB_PROGRESS, job.id)
		}
	}
}

func classifyFailure(ctx context.Context, err error) *Failure {
	switch {
	case ctx.Err() != nil || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		return cancelledFailure()
	case errors.Is(err, engine.ErrEngineLoad):
		return &Failure{Reason: EngineLoadFailure, Message: engineLoadFailureMessage, Err: err}
	default:
		return &Failure{Reason: ExecutionFailure, Message: executionFailureMessage, Err: fmt.Errorf("%w: %w", ErrTranscodeExecution, err)}
	}
}
