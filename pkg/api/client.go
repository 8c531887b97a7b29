// Package api talks to the HTTP collaborator endpoints of the processing
// backend.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/retry"
	"github.com/trafficlens/trafficlens/pkg/tracing"
)

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, body)
}

// HTTPStatus lets errclass classify by status code
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// ActionResponse is the body of the job control endpoints
type ActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Client manages communication with the processing backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	uploadHTTP *http.Client
	apiKey     string
	logger     *logging.Logger
	tracer     *tracing.Provider
	retry      retry.Config
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sets the API key for authentication
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds every non-upload request
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUploadTimeout bounds a whole upload; zero means no limit
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.uploadHTTP.Timeout = d
	}
}

// WithTLSConfig sets TLS settings for https backends
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		transport := &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: cfg,
		}
		c.httpClient.Transport = transport
		c.uploadHTTP.Transport = transport
	}
}

// WithHTTPClient replaces both underlying clients
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.uploadHTTP = hc
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer wraps every call in a span
func WithTracer(p *tracing.Provider) Option {
	return func(c *Client) {
		c.tracer = p
	}
}

// WithRetry sets the retry policy for idempotent calls
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// NewClient creates a client for baseURL (http or https)
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		uploadHTTP: &http.Client{},
		logger:     logging.NewDiscardLogger(),
		retry:      retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.ShouldRetry == nil {
		c.retry.ShouldRetry = IsRetryable
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamURL is the progressive playback URL of a processed job
func (c *Client) StreamURL(jobID string) string {
	return c.baseURL + "/video/stream/" + url.PathEscape(jobID)
}

// StartProcessing queues an uploaded job for processing
func (c *Client) StartProcessing(ctx context.Context, jobID string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/video/process/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to start processing %s: %w", jobID, err)
	}
	return &out, nil
}

// ClearCompleted removes finished jobs from the server queue
func (c *Client) ClearCompleted(ctx context.Context) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/clear-completed", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to clear completed jobs: %w", err)
	}
	return &out, nil
}

// ShutdownAll stops every running job
func (c *Client) ShutdownAll(ctx context.Context) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/shutdown", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to shut down jobs: %w", err)
	}
	return &out, nil
}

// ShutdownJob stops one job
func (c *Client) ShutdownJob(ctx context.Context, jobID string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/shutdown", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to shut down job %s: %w", jobID, err)
	}
	return &out, nil
}

// CompletedJobs lists finished jobs. The call is retried on transient
// failures.
func (c *Client) CompletedJobs(ctx context.Context) ([]models.Job, error) {
	var out models.CompletedJobsResponse
	err := retry.Do(ctx, c.retry, func() error {
		out = models.CompletedJobsResponse{}
		return c.do(ctx, http.MethodGet, "/jobs/completed", nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list completed jobs: %w", err)
	}
	return out.Jobs, nil
}

// IsRetryable reports whether a failed idempotent call may succeed later
func IsRetryable(err error) bool {
	switch errclass.Classify(err) {
	case errclass.ErrorTypeNetwork, errclass.ErrorTypeTimeout, errclass.ErrorTypeUnavailable:
		return true
	default:
		return false
	}
}

func (c *Client) addAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	ctx, span := c.tracer.StartSpan(ctx, method+" "+path,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.addAuthHeader(req)
	tracing.InjectHTTPHeaders(ctx, req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.SetError(span, err)
		c.logger.Debug("Request failed", map[string]interface{}{"method": method, "path": path, "error": err.Error()})
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("Request done", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if err := checkStatus(resp); err != nil {
		tracing.SetError(span, err)
		return err
	}
	return decodeBody(resp, out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}

func decodeBody(resp *http.Response, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
