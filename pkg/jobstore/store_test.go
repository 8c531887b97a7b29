package jobstore

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlens/trafficlens/pkg/models"
)

func TestReplaceScenario(t *testing.T) {
	raw := `{"status":"success","summary":{"total_jobs":2,"queue_length":0,"queue_processor_running":true},
		"all_jobs":[{"job_id":"a","file_name":"a.mp4","status":"processing","progress":40,"elapsed_time":3},
		            {"job_id":"b","file_name":"b.mp4","status":"completed","progress":100,"elapsed_time":9}]}`
	var resp models.JobsResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	s := New()
	_, ok := s.Replace(&resp)
	require.True(t, ok)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Summary().TotalJobs)

	ordered := s.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].JobID)
	assert.Equal(t, "b", ordered[1].JobID)
}

func TestReplaceRejectsNonSuccess(t *testing.T) {
	s := New()
	_, ok := s.Replace(&models.JobsResponse{
		Status:  models.ResponseStatusSuccess,
		Summary: models.JobsSummary{TotalJobs: 1},
		AllJobs: []models.Job{{JobID: "a", Status: models.JobStatusQueued}},
	})
	require.True(t, ok)

	_, ok = s.Replace(&models.JobsResponse{Status: "error", Message: "boom"})
	assert.False(t, ok)
	_, ok = s.Replace(nil)
	assert.False(t, ok)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Summary().TotalJobs)
}

func TestReplaceDropsJobsMissingFromSnapshot(t *testing.T) {
	s := New()
	s.Replace(&models.JobsResponse{Status: "success", AllJobs: []models.Job{
		{JobID: "a", Status: models.JobStatusProcessing},
		{JobID: "b", Status: models.JobStatusQueued},
	}})
	diff, ok := s.Replace(&models.JobsResponse{Status: "success", AllJobs: []models.Job{
		{JobID: "b", Status: models.JobStatusProcessing},
		{JobID: "c", Status: models.JobStatusQueued},
	}})
	require.True(t, ok)

	_, found := s.Job("a")
	assert.False(t, found)

	require.Len(t, diff.Gone, 1)
	assert.Equal(t, "a", diff.Gone[0].JobID)
	require.Len(t, diff.Appeared, 1)
	assert.Equal(t, "c", diff.Appeared[0].JobID)
	require.Len(t, diff.Transitions, 1)
	assert.Equal(t, models.JobStatusQueued, diff.Transitions[0].From)
	assert.Equal(t, models.JobStatusProcessing, diff.Transitions[0].Job.Status)
}

func TestReplaceSequence(t *testing.T) {
	tests := []struct {
		name    string
		seqs    []uint64
		applied []bool
	}{
		{"unsequenced trusts receipt order", []uint64{0, 0, 0}, []bool{true, true, true}},
		{"increasing", []uint64{1, 2, 5}, []bool{true, true, true}},
		{"stale discarded", []uint64{3, 2, 3, 4}, []bool{true, false, false, true}},
		{"unsequenced after sequenced", []uint64{4, 0, 5}, []bool{true, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for i, seq := range tt.seqs {
				_, ok := s.Replace(&models.JobsResponse{Status: "success", Sequence: seq})
				assert.Equal(t, tt.applied[i], ok, "snapshot %d (seq %d)", i, seq)
			}
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Replace(&models.JobsResponse{Status: "success", AllJobs: []models.Job{{JobID: "a"}}})

	snap := s.Snapshot()
	snap.Jobs[0].JobID = "mutated"

	j, ok := s.Job("a")
	assert.True(t, ok)
	assert.Equal(t, "a", j.JobID)
	assert.True(t, snap.Loaded)
}

func TestReplaceCopiesInput(t *testing.T) {
	jobs := []models.Job{{JobID: "a"}}
	s := New()
	s.Replace(&models.JobsResponse{Status: "success", AllJobs: jobs})
	jobs[0].JobID = "mutated"

	_, ok := s.Job("a")
	assert.True(t, ok)
}

func TestOrderStable(t *testing.T) {
	jobs := []models.Job{
		{JobID: "1", Status: models.JobStatusQueued},
		{JobID: "2", Status: models.JobStatusProcessing},
		{JobID: "3", Status: models.JobStatusCompleted},
		{JobID: "4", Status: models.JobStatusProcessing},
		{JobID: "5", Status: "mystery"},
	}
	ordered := Order(jobs)

	var ids []string
	for _, j := range ordered {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"2", "4", "1", "3", "5"}, ids)
	assert.Equal(t, "1", jobs[0].JobID, "input must not be reordered")
}

func TestOnChange(t *testing.T) {
	s := New()
	var got []Diff
	s.OnChange(func(_ Snapshot, d Diff) { got = append(got, d) })

	s.Replace(&models.JobsResponse{Status: "success", AllJobs: []models.Job{{JobID: "a"}}})
	s.Replace(&models.JobsResponse{Status: "error"})
	s.Replace(&models.JobsResponse{Status: "success", AllJobs: []models.Job{{JobID: "a"}}})

	require.Len(t, got, 2)
	assert.Len(t, got[0].Appeared, 1)
	assert.True(t, got[1].Empty())
}

func TestConcurrentReplaceAndRead(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			jobs := make([]models.Job, n)
			for k := range jobs {
				jobs[k] = models.Job{JobID: string(rune('a' + k))}
			}
			s.Replace(&models.JobsResponse{Status: "success", Summary: models.JobsSummary{TotalJobs: n}, AllJobs: jobs})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Ordered()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, snap.Summary.TotalJobs, len(snap.Jobs), "summary and jobs must come from the same snapshot")
}
