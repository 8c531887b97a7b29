// Package wsconn owns WebSocket connections for the job feed and the frame
// stream. A Slot holds at most one live connection; handlers compare their
// own *Conn against the slot before touching shared state.
package wsconn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trafficlens/trafficlens/pkg/errclass"
)

var nextConnID atomic.Uint64

// Conn is an ownership token around one socket
type Conn struct {
	id     uint64
	url    string
	socket Socket
	once   sync.Once
}

// NewConn wraps socket
func NewConn(url string, socket Socket) *Conn {
	return &Conn{
		id:     nextConnID.Add(1),
		url:    url,
		socket: socket,
	}
}

// ID is unique per process
func (c *Conn) ID() uint64 { return c.id }

// URL is the address the socket was dialed with
func (c *Conn) URL() string { return c.url }

// ReadMessage blocks for the next data frame. Anything but an orderly
// close is wrapped with errclass.ErrConnectionLost.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.socket.ReadMessage()
	if err != nil && !IsNormalClose(err) {
		return data, fmt.Errorf("%w: %w", errclass.ErrConnectionLost, err)
	}
	return data, err
}

// Close closes the socket once
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.socket.Close()
	})
	return err
}

// Slot is a single-occupant connection holder
type Slot struct {
	mu   sync.Mutex
	name string
	conn *Conn
}

// NewSlot creates an empty slot; name is used in logs
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot label
func (s *Slot) Name() string { return s.name }

// Install makes c the occupant and closes the previous one
func (s *Slot) Install(c *Conn) {
	s.mu.Lock()
	prev := s.conn
	s.conn = c
	s.mu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
	}
}

// IsCurrent reports whether c still owns the slot
func (s *Slot) IsCurrent(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c != nil && s.conn == c
}

// Release empties the slot if c is the occupant. It does not close c.
func (s *Slot) Release(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil || s.conn != c {
		return false
	}
	s.conn = nil
	return true
}

// Close empties the slot and closes the occupant
func (s *Slot) Close() {
	s.mu.Lock()
	prev := s.conn
	s.conn = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Occupied reports whether a connection is installed
func (s *Slot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Current returns the occupant, or nil
func (s *Slot) Current() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
