package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/database"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("History")

type (
	JobLookup interface {
		Job(uuid.UUID) (*transcode.Job, bool)
	}

	// Recorder persists history records in the background. Producers hand
	// records over without ever blocking: when the buffer is full the record
	// is dropped and counted.
	Recorder struct {
		db      database.Queryable
		store   *Store
		jobs    JobLookup
		records chan any
	}
)

func NewRecorder(db database.Queryable, store *Store, jobs JobLookup, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	return &Recorder{
		db:      db,
		store:   store,
		jobs:    jobs,
		records: make(chan any, bufferSize),
	}
}

// RegisterHandlers subscribes the recorder to job updates so that every job
// reaching a terminal state is recorded.
func (r *Recorder) RegisterHandlers(bus event.EventHandler) {
	bus.RegisterHandlerFunction(event.JOB_UPDATE, r.handleJobUpdate)
}

// ObserveAttempt implements extract.AttemptObserver.
func (r *Recorder) ObserveAttempt(attempt extract.Attempt) {
	r.offer(AttemptRecord{
		ID:           uuid.New(),
		RequestedURL: attempt.RequestedURL,
		Endpoint:     attempt.Endpoint,
		Outcome:      string(attempt.Outcome),
		Message:      attempt.Message,
		StatusCode:   attempt.StatusCode,
		ElapsedMs:    attempt.ElapsedMs,
		CreatedAt:    time.Now().UTC(),
	})
}

// Run writes buffered records to the store until the context is cancelled,
// at which point any records already buffered are flushed.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case record := <-r.records:
			r.persist(record)
		case <-ctx.Done():
			for {
				select {
				case record := <-r.records:
					r.persist(record)
				default:
					log.Emit(logger.STOP, "Shutting down (context cancelled)\n")
					return nil
				}
			}
		}
	}
}

func (r *Recorder) handleJobUpdate(_ event.Event, payload event.Payload) {
	id, ok := payload.(uuid.UUID)
	if !ok {
		return
	}

	job, ok := r.jobs.Job(id)
	if !ok {
		return
	}

	snapshot := job.Snapshot()
	if !snapshot.State.IsTerminal() {
		return
	}

	r.offer(jobRecord(snapshot))
}

func (r *Recorder) offer(record any) {
	select {
	case r.records <- record:
	default:
		metrics.HistoryDropped.Inc()
		log.Warnf("History buffer full, dropping %T\n", record)
	}
}

func (r *Recorder) persist(record any) {
	var err error
	switch rec := record.(type) {
	case AttemptRecord:
		err = r.store.InsertAttempt(r.db, rec)
	case JobRecord:
		err = r.store.SaveJob(r.db, rec)
	}

	if err != nil {
		log.Errorf("Failed to persist history record: %v\n", err)
	}
}

func jobRecord(snapshot transcode.Snapshot) JobRecord {
	record := JobRecord{
		ID:         snapshot.ID,
		SourceName: snapshot.SourceName,
		Operation:  string(snapshot.Operation.Kind()),
		State:      snapshot.State.String(),
		CreatedAt:  snapshot.CreatedAt.UTC(),
		FinishedAt: snapshot.FinishedAt.UTC(),
	}
	if snapshot.Failure != nil {
		record.FailureReason = string(snapshot.Failure.Reason)
	}
	if snapshot.Output != nil {
		record.OutputName = snapshot.Output.Name
		record.OutputSize = snapshot.Output.Size
	}

	return record
}
