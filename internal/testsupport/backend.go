package testsupport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// Backend is an in-process stand-in for the processing server: the two
// WebSocket feeds plus the HTTP collaborator endpoints.
type Backend struct {
	t      testing.TB
	server *httptest.Server

	upgrader websocket.Upgrader

	mu          sync.Mutex
	writeMu     sync.Mutex
	jobConns    map[*websocket.Conn]struct{}
	streamConns map[string]map[*websocket.Conn]struct{}
	requests    []string
	uploads     []string
	failures    map[string]int
	completed   []models.Job
	holdUploads chan struct{}
	release     func()
	rejectWS    int

	jobDials    atomic.Int32
	streamDials atomic.Int32
}

// NewBackend starts a backend that is shut down with the test
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		t:           t,
		jobConns:    make(map[*websocket.Conn]struct{}),
		streamConns: make(map[string]map[*websocket.Conn]struct{}),
		failures:    make(map[string]int),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/jobs", b.handleJobsSocket)
	r.HandleFunc("/ws/video-stream/{jobId}", b.handleStreamSocket)
	r.HandleFunc("/video/upload", b.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/video/process/{jobId}", b.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/jobs/clear-completed", b.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/jobs/shutdown", b.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}/shutdown", b.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/jobs/completed", b.handleCompleted).Methods(http.MethodGet)

	b.server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// URL is the http base URL
func (b *Backend) URL() string {
	return b.server.URL
}

// WSURL is the ws base URL
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// Close drops every socket and stops the server
func (b *Backend) Close() {
	b.DropJobConns()
	b.mu.Lock()
	for _, conns := range b.streamConns {
		for c := range conns {
			c.Close()
		}
	}
	release := b.release
	b.mu.Unlock()
	if release != nil {
		release()
	}
	b.server.Close()
}

// JobDials counts handshakes on /ws/jobs, including rejected ones
func (b *Backend) JobDials() int {
	return int(b.jobDials.Load())
}

// StreamDials counts handshakes on /ws/video-stream
func (b *Backend) StreamDials() int {
	return int(b.streamDials.Load())
}

// JobConns is the number of open job feed sockets
func (b *Backend) JobConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobConns)
}

// StreamConns is the number of open stream sockets for jobID
func (b *Backend) StreamConns(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streamConns[jobID])
}

// RejectWebSockets makes the next n upgrades fail with 503
func (b *Backend) RejectWebSockets(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectWS = n
}

// SendJobs pushes a snapshot to every job feed socket
func (b *Backend) SendJobs(resp models.JobsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		b.t.Fatalf("marshal snapshot: %v", err)
	}
	b.SendJobsRaw(string(data))
}

// SendJobsRaw pushes raw text to every job feed socket
func (b *Backend) SendJobsRaw(raw string) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.jobConns))
	for c := range b.jobConns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	b.write(conns, raw)
}

// SendFrame pushes a frame message for jobID
func (b *Backend) SendFrame(jobID string, jpeg []byte) {
	data, _ := json.Marshal(models.StreamMessage{
		Type:      models.StreamMessageFrame,
		FrameData: base64.StdEncoding.EncodeToString(jpeg),
	})
	b.SendStreamRaw(jobID, string(data))
}

// SendStreamRaw pushes raw text to every stream socket of jobID
func (b *Backend) SendStreamRaw(jobID, raw string) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.streamConns[jobID]))
	for c := range b.streamConns[jobID] {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	b.write(conns, raw)
}

// DropJobConns closes every job feed socket from the server side
func (b *Backend) DropJobConns() {
	b.mu.Lock()
	conns := b.jobConns
	b.jobConns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()
	for c := range conns {
		c.Close()
	}
}

// DropStreamConns closes every stream socket of jobID from the server side
func (b *Backend) DropStreamConns(jobID string) {
	b.mu.Lock()
	conns := b.streamConns[jobID]
	delete(b.streamConns, jobID)
	b.mu.Unlock()
	for c := range conns {
		c.Close()
	}
}

// Fail makes "METHOD /path" answer with status
func (b *Backend) Fail(method, path string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+path] = status
}

// HoldUploads blocks upload requests until the client gives up or the
// returned release func is called.
func (b *Backend) HoldUploads() (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	var once sync.Once
	release = func() {
		once.Do(func() {
			b.mu.Lock()
			if b.holdUploads == ch {
				b.holdUploads = nil
				b.release = nil
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	b.holdUploads = ch
	b.release = release
	return release
}

// SetCompleted sets the body of GET /jobs/completed
func (b *Backend) SetCompleted(jobs []models.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = jobs
}

// Requests lists "METHOD /path" of every HTTP call in order
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Uploads lists the file names received by /video/upload
func (b *Backend) Uploads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.uploads...)
}

func (b *Backend) write(conns []*websocket.Conn, raw string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

func (b *Backend) rejectUpgrade(w http.ResponseWriter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectWS > 0 {
		b.rejectWS--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (b *Backend) handleJobsSocket(w http.ResponseWriter, r *http.Request) {
	b.jobDials.Add(1)
	if b.rejectUpgrade(w) {
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.jobConns[conn] = struct{}{}
	b.mu.Unlock()

	drain(conn)

	b.mu.Lock()
	delete(b.jobConns, conn)
	b.mu.Unlock()
}

func (b *Backend) handleStreamSocket(w http.ResponseWriter, r *http.Request) {
	b.streamDials.Add(1)
	if b.rejectUpgrade(w) {
		return
	}
	jobID := mux.Vars(r)["jobId"]
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	if b.streamConns[jobID] == nil {
		b.streamConns[jobID] = make(map[*websocket.Conn]struct{})
	}
	b.streamConns[jobID][conn] = struct{}{}
	b.mu.Unlock()

	drain(conn)

	b.mu.Lock()
	delete(b.streamConns[jobID], conn)
	b.mu.Unlock()
}

// drain reads until the peer goes away
func drain(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Backend) record(r *http.Request) (status int, failed bool) {
	key := r.Method + " " + r.URL.Path
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, key)
	if code, ok := b.failures[key]; ok {
		return code, true
	}
	return 0, false
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if code, failed := b.record(r); failed {
		http.Error(w, "upload failed", code)
		return
	}

	b.mu.Lock()
	hold := b.holdUploads
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	_, _ = io.Copy(io.Discard, file)

	b.mu.Lock()
	b.uploads = append(b.uploads, header.Filename)
	n := len(b.uploads)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, models.UploadResponse{
		JobID:    fmt.Sprintf("job-%d", n),
		Filename: header.Filename,
		Status:   string(models.JobStatusUploaded),
		Message:  "File uploaded successfully",
	})
}

func (b *Backend) handleAction(w http.ResponseWriter, r *http.Request) {
	if code, failed := b.record(r); failed {
		http.Error(w, "action failed", code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "ok"})
}

func (b *Backend) handleCompleted(w http.ResponseWriter, r *http.Request) {
	if code, failed := b.record(r); failed {
		http.Error(w, "listing failed", code)
		return
	}
	b.mu.Lock()
	jobs := append([]models.Job{}, b.completed...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, models.CompletedJobsResponse{Status: models.ResponseStatusSuccess, Jobs: jobs})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
