// Package errclass turns raw errors into one user-facing category and message.
//
// Every error that may reach a notification passes through Message; raw
// error text and stack traces are never shown to the user.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorType categorizes errors for presentation
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeCancelled
	ErrorTypeUnsupportedFile
	ErrorTypeTimeout
	ErrorTypeNetwork
	ErrorTypeBadRequest
	ErrorTypeUnauthorized
	ErrorTypeForbidden
	ErrorTypeNotFound
	ErrorTypeTooLarge
	ErrorTypeRateLimit
	ErrorTypeUnavailable
	ErrorTypeServer
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeCancelled:
		return "cancelled"
	case ErrorTypeUnsupportedFile:
		return "unsupported_file"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeUnauthorized:
		return "unauthorized"
	case ErrorTypeForbidden:
		return "forbidden"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeTooLarge:
		return "too_large"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypeServer:
		return "server"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code
type StatusCoder interface {
	HTTPStatus() int
}

// ErrUnsupportedFile marks a file rejected by local validation.
// Packages wrap it so Classify can recognise the rejection.
var ErrUnsupportedFile = errors.New("unsupported file type")

// ErrConnectionLost marks a socket that closed abnormally after it was
// established. Transport packages wrap read errors with it.
var ErrConnectionLost = errors.New("connection lost")

var timeoutPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

var networkPatterns = []string{
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
}

var messages = map[ErrorType]string{
	ErrorTypeUnknown:         "Something went wrong. Please try again.",
	ErrorTypeCancelled:       "Upload cancelled.",
	ErrorTypeUnsupportedFile: "Unsupported file type. Please choose an MP4, MOV, AVI, MKV or WebM video.",
	ErrorTypeTimeout:         "The request timed out. Please check your connection and try again.",
	ErrorTypeNetwork:         "Network error: unable to reach the server. Please check your connection.",
	ErrorTypeBadRequest:      "The server rejected the request. Please check the file and try again.",
	ErrorTypeUnauthorized:    "Your session has expired. Please sign in again.",
	ErrorTypeForbidden:       "Access denied. Please check your permissions.",
	ErrorTypeNotFound:        "The requested job or resource was not found.",
	ErrorTypeTooLarge:        "The file is too large to upload.",
	ErrorTypeRateLimit:       "Too many requests. Please wait a moment and try again.",
	ErrorTypeUnavailable:     "The server is temporarily unavailable. Please try again shortly.",
	ErrorTypeServer:          "Server error. Please try again shortly.",
}

// Classify determines the error type. Checks run in a fixed precedence so
// every error maps to exactly one type.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if t := classifyStatus(sc.HTTPStatus()); t != ErrorTypeUnknown {
			return t
		}
	}

	if errors.Is(err, ErrUnsupportedFile) {
		return ErrorTypeUnsupportedFile
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range timeoutPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeTimeout
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, ErrConnectionLost) {
		return ErrorTypeNetwork
	}
	// EOF only means a dropped connection when it ends an HTTP round trip
	var urlErr *url.Error
	if errors.As(err, &urlErr) && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return ErrorTypeNetwork
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeNetwork
		}
	}

	return ErrorTypeUnknown
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return ErrorTypeBadRequest
	case code == http.StatusUnauthorized:
		return ErrorTypeUnauthorized
	case code == http.StatusForbidden:
		return ErrorTypeForbidden
	case code == http.StatusNotFound:
		return ErrorTypeNotFound
	case code == http.StatusRequestEntityTooLarge:
		return ErrorTypeTooLarge
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		return ErrorTypeUnavailable
	case code >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

// Message returns the user-facing text for err
func Message(err error) string {
	if err == nil {
		return ""
	}
	return MessageFor(Classify(err))
}

// MessageFor returns the user-facing text for an error type
func MessageFor(t ErrorType) string {
	if msg, ok := messages[t]; ok {
		return msg
	}
	return messages[ErrorTypeUnknown]
}
