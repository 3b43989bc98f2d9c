package transcode

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid transcode input")
	ErrTranscodeExecution = errors.New("transcode execution failed")
	ErrCancelled          = errors.New("transcode cancelled")
	ErrJobNotFound        = errors.New("no job found")
	ErrJobNotTerminal     = errors.New("job has not finished")
	ErrQueueFull          = errors.New("job queue is full")
)

// User facing messages attached to failures. The underlying errors are
// retained on the failure for logging, but never shown to users.
const (
	executionFailureMessage  = "processing failed, please retry"
	engineLoadFailureMessage = "the media engine could not be started, please retry later"
	cancelledFailureMessage  = "processing was cancelled"
)
