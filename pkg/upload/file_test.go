package upload

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlens/trafficlens/internal/testsupport"
	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/notify"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a.mp4", "video/mp4"},
		{"A.MOV", "video/quicktime"},
		{"clip.avi", "video/x-msvideo"},
		{"clip.mkv", "video/x-matroska"},
		{"clip.webm", "video/webm"},
		{"notes.txt", "text/plain"},
		{"noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectContentType(tt.name), tt.name)
	}
}

func TestValidate(t *testing.T) {
	for _, ct := range AllowedTypes {
		assert.NoError(t, Validate(File{Name: "x", ContentType: ct}))
	}
	err := Validate(File{Name: "notes.txt", ContentType: "text/plain"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedType))
	assert.Equal(t, errclass.ErrorTypeUnsupportedFile, errclass.Classify(err))
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteFile(t, dir, "cam.mkv", 10)

	f, err := FileFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "cam.mkv", f.Name)
	assert.Equal(t, "cam", f.VideoName)
	assert.Equal(t, "video/x-matroska", f.ContentType)
	assert.Equal(t, int64(10), f.Size)

	r, err := f.Open()
	require.NoError(t, err)
	r.Close()

	_, err = FileFromPath(filepath.Join(dir, "missing.mp4"))
	assert.Error(t, err)
	_, err = FileFromPath(dir)
	assert.Error(t, err)
}

type signalHarness struct {
	mu     sync.Mutex
	ch     chan<- os.Signal
	closed bool
}

func newTestGuard(rec notify.Sink) (*SignalGuard, *signalHarness) {
	h := &signalHarness{}
	g := NewSignalGuard(time.Hour, rec)
	g.subscribe = func(c chan<- os.Signal, _ ...os.Signal) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.ch = c
	}
	g.unsubscribe = func(chan<- os.Signal) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
	}
	return g, h
}

func (h *signalHarness) send() {
	h.mu.Lock()
	ch := h.ch
	h.mu.Unlock()
	ch <- os.Interrupt
}

func TestSignalGuardNeedsConfirmation(t *testing.T) {
	rec := &testsupport.EventRecorder{}
	g, h := newTestGuard(rec)

	cancelled := make(chan struct{})
	var once sync.Once
	g.Arm(func() { once.Do(func() { close(cancelled) }) })
	assert.True(t, g.Armed())

	h.send()
	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-cancelled:
		t.Fatal("first interrupt must only warn")
	default:
	}

	h.send()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("second interrupt should cancel")
	}

	g.Disarm()
	assert.False(t, g.Armed())
	h.mu.Lock()
	assert.True(t, h.closed)
	h.mu.Unlock()
	g.Disarm()
}

func TestSignalGuardWindowExpires(t *testing.T) {
	rec := &testsupport.EventRecorder{}
	g, h := newTestGuard(rec)
	clock := time.Unix(0, 0)
	var clockMu sync.Mutex
	g.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	cancelled := false
	var mu sync.Mutex
	g.Arm(func() {
		mu.Lock()
		defer mu.Unlock()
		cancelled = true
	})
	defer g.Disarm()

	h.send()
	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, time.Second, 5*time.Millisecond)

	clockMu.Lock()
	clock = clock.Add(2 * time.Hour)
	clockMu.Unlock()

	h.send()
	require.Eventually(t, func() bool { return len(rec.Events()) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, cancelled, "an interrupt outside the window starts a new confirmation")
}
