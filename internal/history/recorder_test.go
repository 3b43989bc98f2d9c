package history_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/engine/enginetest"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/internal/history"
	"github.com/hbomb79/anyvid/internal/metrics"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, fn func(context.Context) error) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, fn(ctx))
	}()

	stop := func() {
		cancel()
		wg.Wait()
	}
	t.Cleanup(stop)

	return stop
}

func TestRecorder_DropsWhenSaturated(t *testing.T) {
	db, _ := newMockDB(t)
	recorder := history.NewRecorder(db, history.NewStore(), nil, 1)

	before := testutil.ToFloat64(metrics.HistoryDropped)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			recorder.ObserveAttempt(extract.Attempt{Endpoint: "a", Outcome: extract.OutcomeOk})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observing an attempt must never block")
	}
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.HistoryDropped))
}

func TestRecorder_PersistsAttempts(t *testing.T) {
	db, mock := newMockDB(t)
	recorder := history.NewRecorder(db, history.NewStore(), nil, 8)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO extraction_attempts")).
		WithArgs(sqlmock.AnyArg(), "https://youtu.be/abc", "https://a.example", "soft_error", "unsupported", 0, int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO extraction_attempts")).
		WithArgs(sqlmock.AnyArg(), "https://youtu.be/abc", "https://b.example", "ok", "", 0, int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recorder.ObserveAttempt(extract.Attempt{Endpoint: "https://a.example", RequestedURL: "https://youtu.be/abc", Outcome: extract.OutcomeSoftError, Message: "unsupported", ElapsedMs: 7})
	recorder.ObserveAttempt(extract.Attempt{Endpoint: "https://b.example", RequestedURL: "https://youtu.be/abc", Outcome: extract.OutcomeOk, ElapsedMs: 9})

	// Records buffered before shutdown are flushed
	stop := run(t, recorder.Run)
	stop()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_RecordsFinishedJobs(t *testing.T) {
	db, mock := newMockDB(t)
	bus := event.New()

	srv, err := transcode.New(transcode.Config{LogTailSize: 5, QueueSize: 4}, engine.NewHandle(enginetest.NewFake().Loader()), bus)
	require.NoError(t, err)
	recorder := history.NewRecorder(db, history.NewStore(), srv, 8)
	recorder.RegisterHandlers(bus)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO finished_jobs")).
		WithArgs(sqlmock.AnyArg(), "clip.mov", "convert", "succeeded", "", "anyvid_converted.mp4", 4, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run(t, recorder.Run)
	run(t, srv.Run)

	job, err := srv.NewJob(transcode.Source{Name: "clip.mov", Data: []byte("data")}, transcode.ConvertOperation{Format: transcode.FormatMP4, Quality: transcode.QualityLow})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.State() == transcode.Succeeded }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
}
