package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/anyvid/internal/api"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/engine/enginetest"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type extractorFunc func(context.Context, string) (*extract.Result, error)

func (f extractorFunc) Extract(ctx context.Context, url string) (*extract.Result, error) {
	return f(ctx, url)
}

type harness struct {
	server *httptest.Server
	fake   *enginetest.Fake
	handle *engine.Handle
	jobs   *transcode.Service
}

type harnessOpts struct {
	extractor extractorFunc
	rateLimit float64
	burst     int
	loader    engine.Loader
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	fake := enginetest.NewFake()
	loader := opts.loader
	if loader == nil {
		loader = fake.Loader()
	}
	if opts.extractor == nil {
		opts.extractor = func(context.Context, string) (*extract.Result, error) {
			return &extract.Result{Video: &extract.Video{Title: "Video", URL: "https://cdn.example/v.mp4", Source: "Cobalt"}}, nil
		}
	}
	if opts.rateLimit == 0 {
		opts.rateLimit, opts.burst = 100, 100
	}

	bus := event.New()
	handle := engine.NewHandle(loader)
	srv, err := transcode.New(transcode.Config{LogTailSize: 5, QueueSize: 4, MaxUploadBytes: 1 << 20}, handle, bus)
	require.NoError(t, err)

	gateway := api.NewRestGateway(&api.RestConfig{AllowedOrigins: []string{"*"}}, api.Services{
		Jobs:             srv,
		Engine:           handle,
		Extractor:        opts.extractor,
		ExtractRateLimit: opts.rateLimit,
		ExtractRateBurst: opts.burst,
		MaxUploadBytes:   1 << 20,
	})
	gateway.RegisterHandlers(bus)

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() { defer wg.Done(); _ = srv.Run(ctx) }()
	go func() { defer wg.Done(); gateway.StartSocket(ctx) }()

	server := httptest.NewServer(gateway)
	t.Cleanup(func() {
		server.Close()
		cancel()
		wg.Wait()
	})

	return &harness{server: server, fake: fake, handle: handle, jobs: srv}
}

func (h *harness) do(t *testing.T, method string, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	req, err := http.NewRequest(method, h.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) get(t *testing.T, path string) (*http.Response, []byte) {
	return h.do(t, http.MethodGet, path, nil, "")
}

func multipartJob(t *testing.T, fields map[string]string, filename string, data []byte) (io.Reader, string) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf, w.FormDataContentType()
}

func decode[T any](t *testing.T, data []byte) T {
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestExtract_MissingURL(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	for _, path := range []string{"/api/extract", "/api/extract?url=", "/api/extract/?url=%20"} {
		resp, body := h.get(t, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.JSONEq(t, `{"error":"Missing url parameter"}`, string(body))
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestExtract_Success(t *testing.T) {
	var requested string
	h := newHarness(t, harnessOpts{extractor: func(_ context.Context, url string) (*extract.Result, error) {
		requested = url
		return &extract.Result{Video: &extract.Video{Title: "clip.mp4", URL: "https://cdn.example/v.mp4", Source: "Cobalt"}}, nil
	}})

	resp, body := h.get(t, "/api/extract?url=https%3A%2F%2Fyoutu.be%2Fabc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://youtu.be/abc", requested)
	assert.JSONEq(t, `{"status":"success","data":{"title":"clip.mp4","url":"https://cdn.example/v.mp4","thumbnail":"","source":"Cobalt"}}`, string(body))
}

func TestExtract_Exhausted(t *testing.T) {
	h := newHarness(t, harnessOpts{extractor: func(context.Context, string) (*extract.Result, error) {
		return &extract.Result{Attempts: []extract.Attempt{
			{Endpoint: "https://a.example", Outcome: extract.OutcomeHardError, StatusCode: 502, Message: "endpoint responded with status 502"},
			{Endpoint: "https://b.example", Outcome: extract.OutcomeSoftError, Message: "unsupported link"},
		}}, fmt.Errorf("%w (2 attempts)", extract.ErrExtractionExhausted)
	}})

	resp, body := h.get(t, "/api/extract?url=https://youtu.be/abc")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	decoded := decode[map[string]any](t, body)
	assert.Equal(t, "All extraction instances failed. Please try again later or check the URL.", decoded["error"])
	debug, ok := decoded["debug"].([]any)
	require.True(t, ok)
	require.Len(t, debug, 2)
	assert.Equal(t, "https://a.example", debug[0].(map[string]any)["endpoint"])
	assert.Equal(t, "soft_error", debug[1].(map[string]any)["outcome"])
}

func TestExtract_Preflight(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, body := h.do(t, http.MethodOptions, "/api/extract", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET,OPTIONS,PATCH,DELETE,POST,PUT", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
}

func TestExtract_RateLimited(t *testing.T) {
	h := newHarness(t, harnessOpts{rateLimit: 0.001, burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, _ := h.get(t, "/api/extract?url=https://youtu.be/abc")
		codes = append(codes, resp.StatusCode)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestExtract_RateLimitedResponsesKeepCORS(t *testing.T) {
	h := newHarness(t, harnessOpts{rateLimit: 0.001, burst: 1})

	resp, _ := h.get(t, "/api/extract?url=https://youtu.be/abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.get(t, "/api/extract?url=https://youtu.be/abc")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Too many requests, please slow down", decode[map[string]any](t, body)["error"])

	resp, body = h.do(t, http.MethodOptions, "/api/extract", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,OPTIONS,PATCH,DELETE,POST,PUT", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestJobs_CreateConvertAndDownload(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	body, contentType := multipartJob(t, map[string]string{"operation": "convert", "format": "webm", "quality": "high"}, "clip.mp4", []byte("video-bytes"))
	resp, data := h.do(t, http.MethodPost, "/api/anyvid/v1/jobs", body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	created := decode[map[string]any](t, data)
	id := created["id"].(string)
	assert.Equal(t, "clip.mp4", created["source_name"])
	assert.Equal(t, map[string]any{"kind": "convert", "format": "webm", "quality": "high"}, created["operation"])

	require.Eventually(t, func() bool {
		_, data := h.get(t, "/api/anyvid/v1/jobs/"+id)
		return decode[map[string]any](t, data)["state"] == "succeeded"
	}, 2*time.Second, 10*time.Millisecond)

	resp, data = h.get(t, "/api/anyvid/v1/jobs/"+id+"/output")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/webm", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="anyvid_converted.webm"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, []byte("video-bytes"), data)

	resp, data = h.get(t, "/api/anyvid/v1/jobs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, data), 1)

	resp, _ = h.do(t, http.MethodDelete, "/api/anyvid/v1/jobs/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.get(t, "/api/anyvid/v1/jobs/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs_CreateTrimUsesFractions(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	body, contentType := multipartJob(t, map[string]string{"operation": "trim", "start_fraction": "0.25", "end_fraction": "0.5"}, "clip.mov", []byte("v"))
	resp, data := h.do(t, http.MethodPost, "/api/anyvid/v1/jobs", body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	operation := decode[map[string]any](t, data)["operation"].(map[string]any)
	assert.Equal(t, "trim", operation["kind"])
	assert.Equal(t, true, operation["fractional"])
	assert.Equal(t, 0.25, operation["start"])
}

func TestJobs_CreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	tests := []struct {
		name   string
		fields map[string]string
		file   string
		code   string
	}{
		{"missing operation", map[string]string{"format": "mp4"}, "a.mp4", "VALIDATION_FAILED"},
		{"unknown format", map[string]string{"operation": "convert", "format": "flv"}, "a.mp4", "VALIDATION_FAILED"},
		{"convert without format", map[string]string{"operation": "convert"}, "a.mp4", "VALIDATION_FAILED"},
		{"non numeric trim", map[string]string{"operation": "trim", "start": "abc", "end": "1"}, "a.mp4", "VALIDATION_FAILED"},
		{"trim without range", map[string]string{"operation": "trim"}, "a.mp4", "INVALID_OPERATION"},
		{"trim end before start", map[string]string{"operation": "trim", "start": "5", "end": "2"}, "a.mp4", "INVALID_INPUT"},
		{"missing file", map[string]string{"operation": "convert", "format": "mp4"}, "", "MISSING_FILE"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			body, contentType := multipartJob(t, test.fields, test.file, []byte("v"))
			resp, data := h.do(t, http.MethodPost, "/api/anyvid/v1/jobs", body, contentType)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
			assert.Equal(t, test.code, decode[map[string]any](t, data)["code"])
		})
	}

	assert.Empty(t, h.jobs.AllJobs(), "rejected submissions must not create jobs")
}

func TestJobs_UnknownAndMalformedIDs(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, _ := h.get(t, "/api/anyvid/v1/jobs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, path := range []string{"/api/anyvid/v1/jobs/00000000-0000-0000-0000-000000000001", "/api/anyvid/v1/jobs/00000000-0000-0000-0000-000000000001/output"} {
		resp, data := h.get(t, path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "JOB_NOT_FOUND", decode[map[string]any](t, data)["code"])
	}
}

func TestJobs_CancelAndRetry(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	release := make(chan struct{})
	h.fake.OnExec(func(ctx context.Context, f *enginetest.Fake, args []string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return enginetest.CopyInput(ctx, f, args)
		}
	})

	body, contentType := multipartJob(t, map[string]string{"operation": "convert", "format": "mp4"}, "clip.mp4", []byte("v"))
	_, data := h.do(t, http.MethodPost, "/api/anyvid/v1/jobs", body, contentType)
	id := decode[map[string]any](t, data)["id"].(string)

	// Output and retry are unavailable whilst the job is live
	require.Eventually(t, func() bool {
		_, data := h.get(t, "/api/anyvid/v1/jobs/"+id)
		return decode[map[string]any](t, data)["state"] == "running"
	}, 2*time.Second, 10*time.Millisecond)
	resp, _ := h.get(t, "/api/anyvid/v1/jobs/"+id+"/output")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/anyvid/v1/jobs/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/api/anyvid/v1/jobs/"+id, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, data := h.get(t, "/api/anyvid/v1/jobs/"+id)
		failure, _ := decode[map[string]any](t, data)["failure"].(map[string]any)
		return failure != nil && failure["reason"] == "cancelled"
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	resp, _ = h.do(t, http.MethodPost, "/api/anyvid/v1/jobs/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, data := h.get(t, "/api/anyvid/v1/jobs/"+id)
		return decode[map[string]any](t, data)["state"] == "succeeded"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_WarmupAndReset(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, data := h.get(t, "/api/anyvid/v1/engine")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ready":false,"state":"unloaded"}`, string(data))

	resp, _ = h.do(t, http.MethodPost, "/api/anyvid/v1/engine/reset", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/anyvid/v1/engine/warmup", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, h.handle.IsReady, 2*time.Second, 10*time.Millisecond)

	resp, data = h.do(t, http.MethodPost, "/api/anyvid/v1/engine/warmup", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ready":true,"state":"ready"}`, string(data))
}

func TestEngine_ResetAfterFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{loader: func(context.Context, *engine.Dispatcher) (engine.Engine, error) {
		return nil, fmt.Errorf("ffmpeg missing")
	}})

	resp, _ := h.do(t, http.MethodPost, "/api/anyvid/v1/engine/warmup", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return h.handle.State() == engine.StateFailed }, 2*time.Second, 10*time.Millisecond)

	resp, data := h.do(t, http.MethodPost, "/api/anyvid/v1/engine/reset", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ready":false,"state":"unloaded"}`, string(data))
}

func TestPlatform_ClassifyAndEmbed(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, data := h.get(t, "/api/anyvid/v1/platform?url=https://youtu.be/abc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"platform":"youtube","id":"abc","url":"https://youtu.be/abc","thumbnail":"https://img.youtube.com/vi/abc/mqdefault.jpg","title":"Video from youtube (abc)"}`, string(data))

	resp, data = h.get(t, "/api/anyvid/v1/platform/embed?url=https://www.bilibili.com/video/BV1xx411c7mD&autoplay=1&mute=true")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	embed := decode[map[string]any](t, data)
	assert.Equal(t, true, embed["supported"])
	assert.Equal(t, "//player.bilibili.com/player.html?bvid=BV1xx411c7mD&autoplay=1&muted=1", embed["src"])
	assert.True(t, strings.HasPrefix(embed["code"].(string), "<div"))

	resp, data = h.get(t, "/api/anyvid/v1/platform/embed?url=https://vimeo.com/1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, data)["supported"])

	resp, _ = h.get(t, "/api/anyvid/v1/platform")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.get(t, "/api/extract?url=https://youtu.be/abc")

	resp, data := h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}
