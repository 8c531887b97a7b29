package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the read side of a WebSocket. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens sockets
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, url string) (Socket, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, url string) (Socket, error) {
	return f(ctx, url)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	dialer *websocket.Dialer
	apiKey string
	limit  int64
}

// DialerOption configures a WebsocketDialer
type DialerOption func(*WebsocketDialer)

// WithAPIKey sends the key as a bearer token during the handshake
func WithAPIKey(key string) DialerOption {
	return func(d *WebsocketDialer) {
		d.apiKey = key
	}
}

// WithHandshakeTimeout bounds the opening handshake
func WithHandshakeTimeout(timeout time.Duration) DialerOption {
	return func(d *WebsocketDialer) {
		if timeout > 0 {
			d.dialer.HandshakeTimeout = timeout
		}
	}
}

// WithTLSConfig sets the TLS settings for wss:// URLs
func WithTLSConfig(cfg *tls.Config) DialerOption {
	return func(d *WebsocketDialer) {
		d.dialer.TLSClientConfig = cfg
	}
}

// WithReadLimit caps the size of a single message
func WithReadLimit(n int64) DialerOption {
	return func(d *WebsocketDialer) {
		d.limit = n
	}
}

// NewWebsocketDialer creates a dialer with a 10s handshake timeout and a
// 16 MiB message limit.
func NewWebsocketDialer(opts ...DialerOption) *WebsocketDialer {
	d := &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		limit: 16 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens a socket to url
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	header := http.Header{}
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if d.limit > 0 {
		conn.SetReadLimit(d.limit)
	}
	return conn, nil
}

// HandshakeError is returned when the server answered the upgrade with a
// non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// HTTPStatus lets errclass map the handshake status
func (e *HandshakeError) HTTPStatus() int { return e.StatusCode }

// IsNormalClose reports whether err is an orderly close from either side
func IsNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
