package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlens/trafficlens/internal/testsupport"
	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/notify"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newManager(t *testing.T, backend *testsupport.Backend, delay time.Duration) (*Manager, *testsupport.EventRecorder) {
	t.Helper()
	rec := &testsupport.EventRecorder{}
	m := New(Config{
		URL:               backend.WSURL() + "/ws/jobs",
		ReconnectDelay:    delay,
		Store:             jobstore.New(),
		Sink:              rec,
		NotifyTransitions: true,
	})
	t.Cleanup(func() {
		m.Stop()
		m.Wait()
	})
	return m, rec
}

func scenario() models.JobsResponse {
	return models.JobsResponse{
		Status:  models.ResponseStatusSuccess,
		Summary: models.JobsSummary{TotalJobs: 2, QueueLength: 0, QueueProcessorRunning: true},
		AllJobs: []models.Job{
			{JobID: "a", FileName: "a.mp4", Status: models.JobStatusProcessing, Progress: 12},
			{JobID: "b", FileName: "b.mp4", Status: models.JobStatusCompleted, Progress: 100},
		},
	}
}

func TestManagerAppliesSnapshot(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m, rec := newManager(t, backend, 50*time.Millisecond)

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		return backend.JobConns() == 1 && m.Status().State == StateConnected
	}, waitFor, tick)

	backend.SendJobs(scenario())
	require.Eventually(t, func() bool { return m.Store().Len() == 2 }, waitFor, tick)

	ordered := m.Store().Ordered()
	assert.Equal(t, "a", ordered[0].JobID)
	assert.Equal(t, "b", ordered[1].JobID)
	assert.Equal(t, 2, m.Store().Summary().TotalJobs)
	assert.Equal(t, 1, m.Status().Snapshots)
	assert.Contains(t, rec.Messages(), "Connected to job updates")
}

func TestMalformedMessagesDoNotMutate(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m, _ := newManager(t, backend, 50*time.Millisecond)

	var mu sync.Mutex
	var applied []int
	m.Store().OnChange(func(s jobstore.Snapshot, _ jobstore.Diff) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, len(s.Jobs))
	})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)

	backend.SendJobs(scenario())
	backend.SendJobsRaw("{not json")
	backend.SendJobsRaw(`{"status":"error","message":"queue exploded"}`)
	backend.SendJobsRaw(`{"status":"success","summary":{"total_jobs":1},"all_jobs":[{"job_id":"z","status":"queued"}]}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 2
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, []int{2, 1}, applied)
	mu.Unlock()
	assert.Equal(t, StateConnected, m.Status().State, "parse errors are not connection errors")
	_, ok := m.Store().Job("z")
	assert.True(t, ok)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m, _ := newManager(t, backend, 30*time.Millisecond)

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)

	backend.DropJobConns()

	require.Eventually(t, func() bool {
		return backend.JobDials() >= 2 && backend.JobConns() == 1 && m.Status().State == StateConnected
	}, waitFor, tick)
	assert.GreaterOrEqual(t, m.Status().Reconnects, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateConnecting)
	assert.Contains(t, states, StateConnected)
	lostSeen := false
	for _, s := range states {
		if s == StateError || s == StateDisconnected {
			lostSeen = true
		}
	}
	assert.True(t, lostSeen, "drop must surface as disconnected or error, got %v", states)
}

func TestNoReconnectAfterStop(t *testing.T) {
	backend := testsupport.NewBackend(t)
	delay := 100 * time.Millisecond
	m, _ := newManager(t, backend, delay)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)

	m.Stop()
	m.Wait()
	dials := backend.JobDials()

	time.Sleep(3*delay + 50*time.Millisecond)
	assert.Equal(t, dials, backend.JobDials(), "no socket may be constructed after teardown")
	assert.Eventually(t, func() bool { return backend.JobConns() == 0 }, waitFor, tick)
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.RejectWebSockets(1000)
	delay := 100 * time.Millisecond
	m, rec := newManager(t, backend, delay)

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		return m.Status().State == StateError && m.Status().Reconnects >= 1
	}, waitFor, tick)
	assert.NotEmpty(t, m.Status().Error)
	assert.GreaterOrEqual(t, rec.Count(notify.TypeWarning), 1)

	m.Stop()
	m.Wait()
	dials := backend.JobDials()

	time.Sleep(3*delay + 50*time.Millisecond)
	assert.Equal(t, dials, backend.JobDials())
}

func TestContextCancellationStops(t *testing.T) {
	backend := testsupport.NewBackend(t)
	delay := 50 * time.Millisecond
	m, _ := newManager(t, backend, delay)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)

	cancel()
	require.Eventually(t, func() bool { return m.Status().State == StateDisconnected }, waitFor, tick)
	m.Wait()
	dials := backend.JobDials()

	time.Sleep(3*delay + 50*time.Millisecond)
	assert.Equal(t, dials, backend.JobDials())
}

func TestTransitionNotifications(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m, rec := newManager(t, backend, 50*time.Millisecond)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)

	backend.SendJobs(models.JobsResponse{Status: "success", AllJobs: []models.Job{
		{JobID: "a", FileName: "cam1.mp4", Status: models.JobStatusProcessing},
		{JobID: "b", FileName: "cam2.mp4", Status: models.JobStatusProcessing},
	}})
	backend.SendJobs(models.JobsResponse{Status: "success", AllJobs: []models.Job{
		{JobID: "a", FileName: "cam1.mp4", Status: models.JobStatusCompleted},
		{JobID: "b", FileName: "cam2.mp4", Status: models.JobStatusFailed},
	}})

	require.Eventually(t, func() bool { return m.Status().Snapshots == 2 }, waitFor, tick)
	assert.Contains(t, rec.Messages(), "Processing complete: cam1.mp4")
	assert.Contains(t, rec.Messages(), "Processing failed: cam2.mp4")
	assert.Equal(t, 1, rec.Count(notify.TypeError))
}

func TestStartTwiceKeepsOneSocket(t *testing.T) {
	backend := testsupport.NewBackend(t)
	m, _ := newManager(t, backend, 50*time.Millisecond)

	m.Start(context.Background())
	m.Start(context.Background())
	require.Eventually(t, func() bool { return backend.JobConns() == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, backend.JobDials())
}
