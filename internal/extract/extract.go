// Package extract resolves video page URLs in to direct playable links by
// delegating to an ordered list of third-party extraction backends. The
// backends are unreliable, so each is tried in turn until one succeeds.
package extract

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput        = errors.New("invalid extraction input")
	ErrExtractionExhausted = errors.New("all extraction endpoints failed")
)

type (
	OutcomeKind string

	// Video is the normalised description of an extracted video.
	Video struct {
		Title     string `json:"title"`
		URL       string `json:"url"`
		Thumbnail string `json:"thumbnail"`
		Source    string `json:"source"`
	}

	// Attempt records a single request made to one endpoint.
	Attempt struct {
		Endpoint     string        `json:"endpoint"`
		RequestedURL string        `json:"requested_url"`
		Outcome      OutcomeKind   `json:"outcome"`
		Message      string        `json:"message,omitempty"`
		StatusCode   int           `json:"status_code,omitempty"`
		Elapsed      time.Duration `json:"-"`
		ElapsedMs    int64         `json:"elapsed_ms"`
	}

	// Result is the outcome of an extraction. Video is set only on success,
	// Attempts always holds every attempt made, in endpoint order.
	Result struct {
		Video    *Video
		Attempts []Attempt
	}

	// SoftError is returned by an endpoint which responded successfully at the
	// transport level, but reported that it could not extract the video.
	SoftError struct {
		Message string
	}

	// HardError is returned when an endpoint could not be reached, timed out, or
	// responded with a non-2xx status.
	HardError struct {
		StatusCode int
		Err        error
	}
)

const (
	OutcomePending   OutcomeKind = "pending"
	OutcomeOk        OutcomeKind = "ok"
	OutcomeSoftError OutcomeKind = "soft_error"
	OutcomeHardError OutcomeKind = "hard_error"
)

func (e *SoftError) Error() string {
	return fmt.Sprintf("endpoint reported failure: %s", e.Message)
}

func (e *HardError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("endpoint responded with status %d", e.StatusCode)
	}

	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

func (e *HardError) Unwrap() error { return e.Err }

func (r *Result) Succeeded() bool { return r.Video != nil }
