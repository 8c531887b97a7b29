package wsconn

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/trafficlens/trafficlens/pkg/errclass"
)

type stubSocket struct {
	closed atomic.Int32
}

func (s *stubSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("closed")
}

func (s *stubSocket) Close() error {
	s.closed.Add(1)
	return nil
}

func TestInstallClosesPreviousOccupant(t *testing.T) {
	slot := NewSlot("jobs")
	first := &stubSocket{}
	second := &stubSocket{}
	c1 := NewConn("ws://x/1", first)
	c2 := NewConn("ws://x/2", second)

	slot.Install(c1)
	assert.True(t, slot.IsCurrent(c1))

	slot.Install(c2)
	assert.False(t, slot.IsCurrent(c1))
	assert.True(t, slot.IsCurrent(c2))
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Equal(t, int32(0), second.closed.Load())
	assert.NotEqual(t, c1.ID(), c2.ID())
}

func TestReleaseOnlyByOccupant(t *testing.T) {
	slot := NewSlot("stream")
	c1 := NewConn("a", &stubSocket{})
	c2 := NewConn("b", &stubSocket{})

	slot.Install(c2)
	assert.False(t, slot.Release(c1))
	assert.True(t, slot.Occupied())
	assert.True(t, slot.Release(c2))
	assert.False(t, slot.Occupied())
	assert.False(t, slot.Release(nil))
}

func TestCloseEmptiesSlot(t *testing.T) {
	slot := NewSlot("jobs")
	sock := &stubSocket{}
	c := NewConn("a", sock)
	slot.Install(c)

	slot.Close()
	slot.Close()
	c.Close()

	assert.False(t, slot.Occupied())
	assert.Nil(t, slot.Current())
	assert.False(t, slot.IsCurrent(c))
	assert.Equal(t, int32(1), sock.closed.Load(), "socket closed exactly once")
}

func TestHandshakeErrorStatus(t *testing.T) {
	err := &HandshakeError{StatusCode: 403, Err: errors.New("bad handshake")}
	var coder interface{ HTTPStatus() int }
	assert.True(t, errors.As(err, &coder))
	assert.Equal(t, 403, coder.HTTPStatus())
	assert.Contains(t, err.Error(), "403")
}

type closingSocket struct{ err error }

func (s *closingSocket) ReadMessage() (int, []byte, error) { return 0, nil, s.err }
func (s *closingSocket) Close() error                      { return nil }

func TestReadMessageMarksAbnormalClose(t *testing.T) {
	abnormal := &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
	_, err := NewConn("a", &closingSocket{err: abnormal}).ReadMessage()
	assert.ErrorIs(t, err, errclass.ErrConnectionLost)
	assert.False(t, IsNormalClose(err))
	assert.Equal(t, errclass.ErrorTypeNetwork, errclass.Classify(err))

	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	_, err = NewConn("b", &closingSocket{err: normal}).ReadMessage()
	assert.NotErrorIs(t, err, errclass.ErrConnectionLost)
	assert.True(t, IsNormalClose(err))
	assert.True(t, IsNormalClose(fmt.Errorf("read: %w", normal)))
}
