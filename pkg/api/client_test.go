package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/trafficlens/trafficlens/internal/testsupport"
	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/retry"
	"github.com/trafficlens/trafficlens/pkg/tracing"
)

func TestUpload(t *testing.T) {
	backend := testsupport.NewBackend(t)
	client := NewClient(backend.URL())

	payload := bytes.Repeat([]byte("x"), 64*1024)
	var mu sync.Mutex
	var lastSent, lastTotal int64
	resp, err := client.Upload(context.Background(), UploadRequest{
		FileName:    "cam 1.mp4",
		ContentType: "video/mp4",
		Body:        bytes.NewReader(payload),
		Size:        int64(len(payload)),
		Progress: func(sent, total int64) {
			mu.Lock()
			defer mu.Unlock()
			lastSent, lastTotal = sent, total
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "cam 1.mp4", resp.Filename)
	assert.Equal(t, []string{"cam 1.mp4"}, backend.Uploads())

	mu.Lock()
	assert.Equal(t, int64(len(payload)), lastSent)
	assert.Equal(t, int64(len(payload)), lastTotal)
	mu.Unlock()
}

func TestUploadHTTPError(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.Fail(http.MethodPost, "/video/upload", http.StatusInternalServerError)
	client := NewClient(backend.URL())

	_, err := client.Upload(context.Background(), UploadRequest{
		FileName:    "a.mp4",
		ContentType: "video/mp4",
		Body:        strings.NewReader("data"),
		Size:        4,
	})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, errclass.ErrorTypeServer, errclass.Classify(err))
	assert.Equal(t, "Server error. Please try again shortly.", errclass.Message(err))
}

// endlessVideo never runs out of zero bytes
type endlessVideo struct {
	reads atomic.Int64
}

func (v *endlessVideo) Read(b []byte) (int, error) {
	v.reads.Add(1)
	for i := range b {
		b[i] = 0
	}
	return len(b), nil
}

func TestUploadStopsReadingBodyAfterEarlyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()
	client := NewClient(server.URL)

	body := &endlessVideo{}
	var progressCalls atomic.Int64
	_, err := client.Upload(context.Background(), UploadRequest{
		FileName:    "huge.mp4",
		ContentType: "video/mp4",
		Body:        body,
		Size:        1 << 40,
		Progress:    func(sent, total int64) { progressCalls.Add(1) },
	})
	require.Error(t, err)

	reads, calls := body.reads.Load(), progressCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, reads, body.reads.Load(), "body read after Upload returned")
	assert.Equal(t, calls, progressCalls.Load(), "progress reported after Upload returned")
}

func TestUploadCancellation(t *testing.T) {
	backend := testsupport.NewBackend(t)
	release := backend.HoldUploads()
	defer release()
	client := NewClient(backend.URL())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Upload(ctx, UploadRequest{
			FileName:    "a.mp4",
			ContentType: "video/mp4",
			Body:        strings.NewReader("data"),
			Size:        4,
		})
		done <- err
	}()

	require.Eventually(t, func() bool { return len(backend.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, errclass.ErrorTypeCancelled, errclass.Classify(err))
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not observe cancellation")
	}
	assert.Empty(t, backend.Uploads())
}

func TestJobActions(t *testing.T) {
	backend := testsupport.NewBackend(t)
	client := NewClient(backend.URL())
	ctx := context.Background()

	_, err := client.StartProcessing(ctx, "job-1")
	require.NoError(t, err)
	_, err = client.ShutdownJob(ctx, "job-2")
	require.NoError(t, err)
	_, err = client.ClearCompleted(ctx)
	require.NoError(t, err)
	resp, err := client.ShutdownAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	assert.Equal(t, []string{
		"POST /video/process/job-1",
		"POST /jobs/job-2/shutdown",
		"POST /jobs/clear-completed",
		"POST /jobs/shutdown",
	}, backend.Requests())
}

func TestActionForbidden(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.Fail(http.MethodPost, "/video/process/job-1", http.StatusForbidden)
	client := NewClient(backend.URL())

	_, err := client.StartProcessing(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, "Access denied. Please check your permissions.", errclass.Message(err))
}

func TestCompletedJobsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","jobs":[{"job_id":"a","file_name":"a.mp4","status":"completed","progress":100}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetry(retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}))

	jobs, err := client.CompletedJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusCompleted, jobs[0].Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCompletedJobsDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetry(retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}))
	_, err := client.CompletedJobs(context.Background())
	require.Error(t, err)
	assert.Equal(t, errclass.ErrorTypeUnauthorized, errclass.Classify(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHeadersAndSpans(t *testing.T) {
	var gotAuth, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("traceparent")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client := NewClient(srv.URL,
		WithAPIKey("secret"),
		WithTracer(tracing.NewWithTracerProvider(tp, "test")),
	)

	_, err := client.ClearCompleted(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.NotEmpty(t, gotTrace)
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "POST /jobs/clear-completed", ended[0].Name())
}

func TestStreamURL(t *testing.T) {
	client := NewClient("http://localhost:8000/")
	assert.Equal(t, "http://localhost:8000/video/stream/job%201", client.StreamURL("job 1"))
	assert.Equal(t, "http://localhost:8000", client.BaseURL())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&HTTPError{StatusCode: 503}))
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(&HTTPError{StatusCode: 404}))
	assert.False(t, IsRetryable(context.Canceled))
}
