package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("Extract")

type (
	// AttemptObserver is notified of every completed attempt. Observers are
	// called on the extraction goroutine and must never block.
	AttemptObserver interface {
		ObserveAttempt(Attempt)
	}

	ObserverFunc func(Attempt)

	// Proxy tries each of its endpoints in order, one at a time, until one
	// of them yields a playable link. Exactly one attempt is ever in flight
	// for a given extraction.
	Proxy struct {
		endpoints      []Endpoint
		attemptTimeout time.Duration
		observers      []AttemptObserver
	}
)

func (f ObserverFunc) ObserveAttempt(a Attempt) { f(a) }

// NewProxy constructs a proxy over the given endpoints. The order of the
// endpoints is the order in which they will be attempted.
func NewProxy(endpoints []Endpoint, attemptTimeout time.Duration, observers ...AttemptObserver) *Proxy {
	return &Proxy{
		endpoints:      endpoints,
		attemptTimeout: attemptTimeout,
		observers:      observers,
	}
}

// NewCobaltProxy builds a proxy over the cobalt instances listed in the config.
func NewCobaltProxy(config Config, observers ...AttemptObserver) *Proxy {
	client := &http.Client{}
	endpoints := make([]Endpoint, 0, len(config.Endpoints))
	for _, base := range config.Endpoints {
		if base = strings.TrimSpace(base); base != "" {
			endpoints = append(endpoints, NewCobaltEndpoint(base, client, config.VideoQuality, config.UserAgent))
		}
	}

	return NewProxy(endpoints, config.AttemptTimeout(), observers...)
}

// AddObserver registers an additional attempt observer. It must be called
// before the proxy is used concurrently.
func (p *Proxy) AddObserver(observer AttemptObserver) {
	p.observers = append(p.observers, observer)
}

// Extract resolves the URL using the first endpoint able to do so. A blank
// URL fails with ErrInvalidInput without any attempts being made. If every
// endpoint fails, the result (holding all attempts) is returned alongside an
// error wrapping ErrExtractionExhausted. Cancelling ctx stops any further
// attempts.
func (p *Proxy) Extract(ctx context.Context, url string) (*Result, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		metrics.ExtractionRequests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: url must not be blank", ErrInvalidInput)
	}

	result := &Result{Attempts: make([]Attempt, 0, len(p.endpoints))}
	for _, endpoint := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("extraction interrupted: %w", err)
		}

		log.Emit(logger.DEBUG, "Trying extraction of %s via %s\n", url, endpoint.Name())
		video, attempt := p.attempt(ctx, endpoint, url)
		result.Attempts = append(result.Attempts, attempt)
		p.notify(attempt)

		if video != nil {
			log.Emit(logger.SUCCESS, "Extracted %s via %s\n", url, endpoint.Name())
			metrics.ExtractionRequests.WithLabelValues("success").Inc()
			result.Video = video
			return result, nil
		}

		log.Warnf("Extraction via %s failed (%s): %s\n", endpoint.Name(), attempt.Outcome, attempt.Message)
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("extraction interrupted: %w", err)
	}

	metrics.ExtractionRequests.WithLabelValues("exhausted").Inc()
	return result, fmt.Errorf("%w (%d attempts)", ErrExtractionExhausted, len(result.Attempts))
}

// attempt performs a single bounded request against the endpoint and
// classifies its outcome.
func (p *Proxy) attempt(parent context.Context, endpoint Endpoint, url string) (*Video, Attempt) {
	ctx, cancel := context.WithTimeout(parent, p.attemptTimeout)
	defer cancel()

	attempt := Attempt{Endpoint: endpoint.Name(), RequestedURL: url, Outcome: OutcomePending}
	started := time.Now()
	video, err := endpoint.Resolve(ctx, url)
	attempt.Elapsed = time.Since(started)
	attempt.ElapsedMs = attempt.Elapsed.Milliseconds()

	var soft *SoftError
	var hard *HardError
	switch {
	case err == nil && video != nil:
		attempt.Outcome = OutcomeOk
	case err == nil:
		attempt.Outcome = OutcomeSoftError
		attempt.Message = "endpoint returned no video"
	case errors.As(err, &soft):
		attempt.Outcome = OutcomeSoftError
		attempt.Message = soft.Message
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		attempt.Outcome = OutcomeHardError
		attempt.Message = fmt.Sprintf("timed out after %s", p.attemptTimeout)
	case errors.As(err, &hard):
		attempt.Outcome = OutcomeHardError
		attempt.StatusCode = hard.StatusCode
		attempt.Message = hard.Error()
	default:
		attempt.Outcome = OutcomeHardError
		attempt.Message = err.Error()
	}

	if attempt.Outcome != OutcomeOk {
		video = nil
	}

	return video, attempt
}

func (p *Proxy) notify(attempt Attempt) {
	metrics.RecordExtractionAttempt(attempt.Endpoint, string(attempt.Outcome), attempt.Elapsed)
	for _, o := range p.observers {
		o.ObserveAttempt(attempt)
	}
}
