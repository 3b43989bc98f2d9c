package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/transcode"
)

type (
	// Dto is the representation of a transcode job returned by the job
	// endpoints and broadcast over the activity socket.
	Dto struct {
		ID         uuid.UUID    `json:"id"`
		SourceName string       `json:"source_name"`
		SourceSize int          `json:"source_size"`
		State      string       `json:"state"`
		Progress   int          `json:"progress"`
		Logs       []string     `json:"logs"`
		Operation  OperationDto `json:"operation"`
		Failure    *FailureDto  `json:"failure"`
		Output     *OutputDto   `json:"output"`
		CreatedAt  time.Time    `json:"created_at"`
		StartedAt  *time.Time   `json:"started_at"`
		FinishedAt *time.Time   `json:"finished_at"`
	}

	OperationDto struct {
		Kind       string   `json:"kind"`
		Format     string   `json:"format,omitempty"`
		Quality    string   `json:"quality,omitempty"`
		Start      *float64 `json:"start,omitempty"`
		End        *float64 `json:"end,omitempty"`
		Fractional bool     `json:"fractional,omitempty"`
		Accurate   bool     `json:"accurate,omitempty"`
	}

	FailureDto struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}

	OutputDto struct {
		Name string `json:"name"`
		Ext  string `json:"ext"`
		MIME string `json:"mime"`
		Size int    `json:"size"`
	}
)

func NewDto(job *transcode.Job) Dto {
	snapshot := job.Snapshot()
	dto := Dto{
		ID:         snapshot.ID,
		SourceName: snapshot.SourceName,
		SourceSize: snapshot.SourceSize,
		State:      snapshot.State.String(),
		Progress:   snapshot.Progress,
		Logs:       snapshot.Logs,
		Operation:  newOperationDto(snapshot.Operation),
		CreatedAt:  snapshot.CreatedAt,
		StartedAt:  optionalTime(snapshot.StartedAt),
		FinishedAt: optionalTime(snapshot.FinishedAt),
	}
	if dto.Logs == nil {
		dto.Logs = []string{}
	}
	if snapshot.Failure != nil {
		dto.Failure = &FailureDto{Reason: string(snapshot.Failure.Reason), Message: snapshot.Failure.Message}
	}
	if out := snapshot.Output; out != nil {
		dto.Output = &OutputDto{Name: out.Name, Ext: out.Ext, MIME: out.MIME, Size: out.Size}
	}

	return dto
}

func newOperationDto(op transcode.Operation) OperationDto {
	switch o := op.(type) {
	case transcode.ConvertOperation:
		return OperationDto{Kind: string(o.Kind()), Format: string(o.Format), Quality: string(o.Quality)}
	case transcode.TrimOperation:
		start, end := o.Start, o.End
		return OperationDto{Kind: string(o.Kind()), Start: &start, End: &end, Fractional: o.Fractional, Accurate: o.Accurate}
	}

	return OperationDto{Kind: string(op.Kind())}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
