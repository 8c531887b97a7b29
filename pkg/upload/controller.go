// Package upload sends user-picked videos to the backend one at a time.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trafficlens/trafficlens/pkg/api"
	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/metrics"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/notify"
	"github.com/trafficlens/trafficlens/pkg/tracing"
)

// ErrUploadInProgress is returned when HandleFiles is called during a batch
var ErrUploadInProgress = errors.New("an upload is already in progress")

// DefaultRecentLimit bounds the recent uploads list
const DefaultRecentLimit = 10

// Transport is the part of the API client the controller needs
type Transport interface {
	Upload(ctx context.Context, req api.UploadRequest) (*models.UploadResponse, error)
	StartProcessing(ctx context.Context, jobID string) (*api.ActionResponse, error)
	StreamURL(jobID string) string
}

// VideoRecorder persists the Video record of a finished upload
type VideoRecorder interface {
	CreateVideo(ctx context.Context, video *models.Video) error
}

// Session is the outcome of one file in a batch
type Session struct {
	File      File
	VideoName string
	Status    models.UploadStatus
	JobID     string
	Err       error  // raw cause, for logs only
	Message   string // classified, safe to show
	Video     *models.Video
}

// ProgressFunc receives per-file byte progress; index is the file position
type ProgressFunc func(index int, f File, sent, total int64)

// Config wires a Controller
type Config struct {
	Transport   Transport
	Videos      VideoRecorder
	Sink        notify.Sink
	Guard       Guard
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Tracer      *tracing.Provider
	RecentLimit int
	Progress    ProgressFunc
	OnSession   func(index int, s Session)
}

// Controller runs upload batches
type Controller struct {
	transport Transport
	videos    VideoRecorder
	sink      notify.Sink
	guard     Guard
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    *tracing.Provider
	limit     int
	progress  ProgressFunc
	onSession func(int, Session)

	mu        sync.Mutex
	uploading bool
	cancel    context.CancelFunc
	recent    []*models.Video
}

// New creates a controller
func New(cfg Config) *Controller {
	limit := cfg.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Controller{
		transport: cfg.Transport,
		videos:    cfg.Videos,
		sink:      notify.OrDiscard(cfg.Sink),
		guard:     cfg.Guard,
		logger:    logger.WithField("component", "upload"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		limit:     limit,
		progress:  cfg.Progress,
		onSession: cfg.OnSession,
	}
}

// HandleFiles validates, uploads and registers files strictly in order.
// One cancel governs the whole call: after Cancel (or ctx ending) the file
// in flight ends as cancelled and the rest are never attempted.
func (c *Controller) HandleFiles(ctx context.Context, files []File) ([]Session, error) {
	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	batchCtx, cancel := context.WithCancel(ctx)
	c.uploading = true
	c.cancel = cancel
	c.mu.Unlock()

	if c.guard != nil {
		c.guard.Arm(cancel)
	}
	defer func() {
		if c.guard != nil {
			c.guard.Disarm()
		}
		c.mu.Lock()
		c.uploading = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	batchID := uuid.NewString()
	logger := c.logger.WithField("batch_id", batchID)
	logger.Info("Upload batch started", map[string]interface{}{"files": len(files)})

	sessions := make([]Session, len(files))
	for i, f := range files {
		sessions[i] = Session{File: f, VideoName: videoName(f), Status: models.UploadStatusPending}
	}

	for i := range sessions {
		if batchCtx.Err() != nil {
			sessions[i].Status = models.UploadStatusCancelled
			sessions[i].Message = errclass.MessageFor(errclass.ErrorTypeCancelled)
			c.metrics.UploadFinished(string(models.UploadStatusCancelled))
			c.report(i, sessions[i])
			continue
		}
		c.process(batchCtx, logger, i, &sessions[i])
	}

	logger.Info("Upload batch finished", map[string]interface{}{"files": len(files)})
	return sessions, nil
}

// Cancel aborts the running batch, if any
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Uploading reports whether a batch is running
func (c *Controller) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Recent returns the videos uploaded by this controller, newest first
func (c *Controller) Recent() []*models.Video {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.Video(nil), c.recent...)
}

func (c *Controller) process(ctx context.Context, logger *logging.Logger, index int, s *Session) {
	ctx, span := c.tracer.StartSpan(ctx, "upload.file",
		attribute.String("file.name", s.File.Name),
		attribute.String("file.content_type", s.File.ContentType),
		attribute.Int64("file.size", s.File.Size),
	)
	defer span.End()

	if err := Validate(s.File); err != nil {
		logger.Warn("File rejected", map[string]interface{}{"file": s.File.Name, "content_type": s.File.ContentType})
		c.finish(index, s, models.UploadStatusRejected, err)
		return
	}

	s.Status = models.UploadStatusUploading
	c.report(index, *s)

	resp, err := c.send(ctx, index, s.File)
	if err != nil {
		tracing.SetError(span, err)
		logger.Warn("Upload failed", map[string]interface{}{"file": s.File.Name, "error": err.Error()})
		c.finish(index, s, statusFor(err), err)
		return
	}
	s.JobID = resp.JobID
	span.SetAttributes(attribute.String("job.id", resp.JobID))
	c.metrics.UploadBytes(s.File.Size)

	s.Status = models.UploadStatusRegistering
	c.report(index, *s)

	if _, err := c.transport.StartProcessing(ctx, resp.JobID); err != nil {
		tracing.SetError(span, err)
		logger.Warn("Failed to start processing", map[string]interface{}{"job_id": resp.JobID, "error": err.Error()})
		c.finish(index, s, statusFor(err), err)
		return
	}

	video := &models.Video{
		Name:        s.VideoName,
		FileName:    s.File.Name,
		ContentType: s.File.ContentType,
		SizeBytes:   s.File.Size,
		JobID:       resp.JobID,
		StreamURL:   c.transport.StreamURL(resp.JobID),
	}
	if c.videos != nil {
		if err := c.videos.CreateVideo(ctx, video); err != nil {
			// The job exists server-side; a missing local record only
			// affects `videos list`.
			logger.Error("Failed to record video", map[string]interface{}{"job_id": resp.JobID, "error": err.Error()})
		}
	}
	s.Video = video
	c.remember(video)

	logger.Info("File uploaded", map[string]interface{}{"file": s.File.Name, "job_id": resp.JobID})
	c.finish(index, s, models.UploadStatusCompleted, nil)
}

func (c *Controller) send(ctx context.Context, index int, f File) (*models.UploadResponse, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("no reader for %s", f.Name)
	}
	body, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer body.Close()

	var progress api.ProgressFunc
	if c.progress != nil {
		progress = func(sent, total int64) { c.progress(index, f, sent, total) }
	}
	return c.transport.Upload(ctx, api.UploadRequest{
		FileName:    f.Name,
		ContentType: f.ContentType,
		Body:        body,
		Size:        f.Size,
		Progress:    progress,
	})
}

func (c *Controller) finish(index int, s *Session, status models.UploadStatus, err error) {
	s.Status = status
	s.Err = err
	c.metrics.UploadFinished(string(status))

	switch status {
	case models.UploadStatusCompleted:
		s.Message = fmt.Sprintf("Uploaded %s. Processing started.", s.File.Name)
		c.sink.Emit(notify.Event{Source: "upload", Message: s.Message, Type: notify.TypeSuccess})
	case models.UploadStatusCancelled:
		s.Message = errclass.MessageFor(errclass.ErrorTypeCancelled)
		c.sink.Emit(notify.Event{Source: "upload", Message: s.Message, Type: notify.TypeWarning})
	default:
		s.Message = errclass.Message(err)
		c.sink.Emit(notify.Event{
			Source:  "upload",
			Message: fmt.Sprintf("%s: %s", s.File.Name, s.Message),
			Type:    notify.TypeError,
		})
	}
	c.report(index, *s)
}

func (c *Controller) report(index int, s Session) {
	if c.onSession != nil {
		c.onSession(index, s)
	}
}

func (c *Controller) remember(v *models.Video) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append([]*models.Video{v}, c.recent...)
	if len(c.recent) > c.limit {
		c.recent = c.recent[:c.limit]
	}
}

func statusFor(err error) models.UploadStatus {
	if errclass.Classify(err) == errclass.ErrorTypeCancelled {
		return models.UploadStatusCancelled
	}
	return models.UploadStatusFailed
}

func videoName(f File) string {
	if f.VideoName != "" {
		return f.VideoName
	}
	return DefaultVideoName(f.Name)
}
