// Package history keeps an audit log of extraction attempts and finished
// transcode jobs in the database.
package history

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/database"
)

const defaultListLimit = 50

type (
	AttemptRecord struct {
		ID           uuid.UUID `db:"id" json:"id"`
		RequestedURL string    `db:"requested_url" json:"requested_url"`
		Endpoint     string    `db:"endpoint" json:"endpoint"`
		Outcome      string    `db:"outcome" json:"outcome"`
		Message      string    `db:"message" json:"message"`
		StatusCode   int       `db:"status_code" json:"status_code"`
		ElapsedMs    int64     `db:"elapsed_ms" json:"elapsed_ms"`
		CreatedAt    time.Time `db:"created_at" json:"created_at"`
	}

	JobRecord struct {
		ID            uuid.UUID `db:"id" json:"id"`
		SourceName    string    `db:"source_name" json:"source_name"`
		Operation     string    `db:"operation" json:"operation"`
		State         string    `db:"state" json:"state"`
		FailureReason string    `db:"failure_reason" json:"failure_reason"`
		OutputName    string    `db:"output_name" json:"output_name"`
		OutputSize    int       `db:"output_size" json:"output_size"`
		CreatedAt     time.Time `db:"created_at" json:"created_at"`
		FinishedAt    time.Time `db:"finished_at" json:"finished_at"`
	}

	// AttemptFilter narrows a listing of extraction attempts. Zero values
	// are ignored.
	AttemptFilter struct {
		Endpoint string
		Outcome  string
		Limit    uint64
	}

	Store struct{}
)

func NewStore() *Store { return &Store{} }

func (store *Store) InsertAttempt(db database.Queryable, record AttemptRecord) error {
	_, err := db.NamedExec(`
		INSERT INTO extraction_attempts(id, requested_url, endpoint, outcome, message, status_code, elapsed_ms, created_at)
		VALUES (:id, :requested_url, :endpoint, :outcome, :message, :status_code, :elapsed_ms, :created_at)
	`, record)
	if err != nil {
		return fmt.Errorf("failed to insert extraction attempt: %w", err)
	}

	return nil
}

// SaveJob records the terminal state of a job. A retried job finishing
// again replaces its previous record.
func (store *Store) SaveJob(db database.Queryable, record JobRecord) error {
	_, err := db.NamedExec(`
		INSERT INTO finished_jobs(id, source_name, operation, state, failure_reason, output_name, output_size, created_at, finished_at)
		VALUES (:id, :source_name, :operation, :state, :failure_reason, :output_name, :output_size, :created_at, :finished_at)
		ON CONFLICT(id) DO UPDATE SET
			state=EXCLUDED.state,
			failure_reason=EXCLUDED.failure_reason,
			output_name=EXCLUDED.output_name,
			output_size=EXCLUDED.output_size,
			finished_at=EXCLUDED.finished_at
	`, record)
	if err != nil {
		return fmt.Errorf("failed to save finished job %s: %w", record.ID, err)
	}

	return nil
}

func (store *Store) ListAttempts(db database.Queryable, filter AttemptFilter) ([]*AttemptRecord, error) {
	builder := squirrel.Select("*").From("extraction_attempts").OrderBy("created_at DESC").Limit(limitOrDefault(filter.Limit))
	if filter.Endpoint != "" {
		builder = builder.Where(squirrel.Eq{"endpoint": filter.Endpoint})
	}
	if filter.Outcome != "" {
		builder = builder.Where(squirrel.Eq{"outcome": filter.Outcome})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list attempts query: %w", err)
	}

	var results []*AttemptRecord
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list extraction attempts: %w", err)
	}

	return results, nil
}

func (store *Store) ListJobs(db database.Queryable, limit uint64) ([]*JobRecord, error) {
	query, args, err := squirrel.Select("*").From("finished_jobs").OrderBy("finished_at DESC").Limit(limitOrDefault(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list jobs query: %w", err)
	}

	var results []*JobRecord
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list finished jobs: %w", err)
	}

	return results, nil
}

func limitOrDefault(limit uint64) uint64 {
	if limit == 0 {
		return defaultListLimit
	}

	return limit
}
