package errclass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("API error (status %d)", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestClassifySubstrings(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"timeout text", errors.New("upload timeout after 30s"), ErrorTypeTimeout},
		{"Timeout capitalised", errors.New("Timeout while reading body"), ErrorTypeTimeout},
		{"network text", errors.New("network unreachable"), ErrorTypeNetwork},
		{"NetworkError text", errors.New("NetworkError when attempting to fetch resource"), ErrorTypeNetwork},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8000: connect: connection refused"), ErrorTypeNetwork},
		{"unmatched", errors.New("disk quota exceeded"), ErrorTypeUnknown},
		{"word containing eof", errors.New("corrupt videofile header"), ErrorTypeUnknown},
		{"geofence", errors.New("invalid geofence polygon"), ErrorTypeUnknown},
		{"decode unexpected EOF", fmt.Errorf("failed to decode response: %w", io.ErrUnexpectedEOF), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestMessagesAreDistinctPerSubstring(t *testing.T) {
	timeoutMsg := Message(errors.New("request timeout"))
	networkMsg := Message(errors.New("NetworkError"))
	genericMsg := Message(errors.New("boom"))

	assert.Contains(t, strings.ToLower(timeoutMsg), "timed out")
	assert.Contains(t, strings.ToLower(networkMsg), "network")
	assert.Equal(t, MessageFor(ErrorTypeUnknown), genericMsg)

	assert.NotEqual(t, timeoutMsg, networkMsg)
	assert.NotEqual(t, timeoutMsg, genericMsg)
	assert.NotEqual(t, networkMsg, genericMsg)
}

func TestTimeoutTakesPrecedenceOverNetwork(t *testing.T) {
	err := errors.New("network timeout")
	assert.Equal(t, ErrorTypeTimeout, Classify(err))
}

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		code     int
		expected ErrorType
	}{
		{400, ErrorTypeBadRequest},
		{401, ErrorTypeUnauthorized},
		{403, ErrorTypeForbidden},
		{404, ErrorTypeNotFound},
		{413, ErrorTypeTooLarge},
		{422, ErrorTypeBadRequest},
		{429, ErrorTypeRateLimit},
		{500, ErrorTypeServer},
		{502, ErrorTypeUnavailable},
		{503, ErrorTypeUnavailable},
		{504, ErrorTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			err := fmt.Errorf("start processing: %w", statusErr(tt.code))
			assert.Equal(t, tt.expected, Classify(err))
		})
	}

	assert.Contains(t, Message(statusErr(500)), "try again shortly")
	assert.Contains(t, Message(statusErr(403)), "permissions")
}

func TestStatusCodeBeatsBodyText(t *testing.T) {
	// 504 bodies frequently contain "timeout"; the status code decides.
	err := fmt.Errorf("gateway timeout: %w", statusErr(504))
	assert.Equal(t, ErrorTypeUnavailable, Classify(err))
}

func TestClassifyCancellationAndDeadline(t *testing.T) {
	assert.Equal(t, ErrorTypeCancelled, Classify(fmt.Errorf("upload: %w", context.Canceled)))
	assert.Equal(t, ErrorTypeTimeout, Classify(fmt.Errorf("upload: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorTypeUnsupportedFile, Classify(fmt.Errorf("notes.txt: %w", ErrUnsupportedFile)))
}

func TestClassifyOpError(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("host down")}
	assert.Equal(t, ErrorTypeNetwork, Classify(err))
}

func TestClassifyTransportEOF(t *testing.T) {
	roundTrip := &url.Error{Op: "Post", URL: "http://localhost:8000/video/upload", Err: io.EOF}
	assert.Equal(t, ErrorTypeNetwork, Classify(roundTrip))

	lost := fmt.Errorf("%w: %w", ErrConnectionLost, errors.New("websocket: close 1006 (abnormal closure): unexpected EOF"))
	assert.Equal(t, ErrorTypeNetwork, Classify(lost))

	assert.Equal(t, ErrorTypeUnknown, Classify(io.EOF))
}

func TestMessageNeverLeaksRawText(t *testing.T) {
	raw := errors.New("panic: runtime error: index out of range [3] with length 2")
	msg := Message(raw)
	assert.NotContains(t, msg, "panic")
	assert.NotContains(t, msg, "index out of range")
	assert.Empty(t, Message(nil))
}
