package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/tracing"
)

// ProgressFunc receives the bytes sent so far and the total size
type ProgressFunc func(sent, total int64)

// UploadRequest describes one file upload
type UploadRequest struct {
	FileName    string
	ContentType string
	Body        io.Reader
	Size        int64
	Progress    ProgressFunc
}

// errUploadReturned stops the body writer once Upload has a result
var errUploadReturned = errors.New("upload returned")

// Upload streams a file to POST /video/upload as multipart field "file".
// Cancelling ctx aborts the transfer; the error then wraps context.Canceled.
// Uploads are never retried. Body and Progress are not used after Upload
// returns.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (*models.UploadResponse, error) {
	ctx, span := c.tracer.StartSpan(ctx, "POST /video/upload",
		attribute.String("file.name", up.FileName),
		attribute.Int64("file.size", up.Size),
	)
	defer span.End()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	done := make(chan struct{})
	defer func() {
		pr.CloseWithError(errUploadReturned)
		<-done
	}()

	go func() {
		defer close(done)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(up.FileName)))
		header.Set("Content-Type", up.ContentType)

		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, &progressReader{r: up.Body, total: up.Size, fn: up.Progress})
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.addAuthHeader(req)
	tracing.InjectHTTPHeaders(ctx, req)

	start := time.Now()
	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err := checkStatus(resp); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	var out models.UploadResponse
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	c.logger.Info("Upload finished", map[string]interface{}{
		"file":     up.FileName,
		"job_id":   out.JobID,
		"duration": time.Since(start).String(),
	})
	return &out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
