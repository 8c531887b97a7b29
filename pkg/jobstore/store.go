// Package jobstore holds the last job snapshot pushed by the server.
package jobstore

import (
	"sort"
	"sync"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// Transition is a job whose status changed between two snapshots
type Transition struct {
	Job  models.Job
	From models.JobStatus
}

// Diff describes what a snapshot changed
type Diff struct {
	Appeared    []models.Job
	Gone        []models.Job
	Transitions []Transition
}

// Empty reports whether the snapshot changed no job identity or status
func (d Diff) Empty() bool {
	return len(d.Appeared) == 0 && len(d.Gone) == 0 && len(d.Transitions) == 0
}

// Snapshot is an immutable copy of the store contents
type Snapshot struct {
	Summary  models.JobsSummary
	Jobs     []models.Job
	Sequence uint64
	Loaded   bool
}

// Store is replaced wholesale by every applied snapshot. Readers always get
// copies, never the backing slice.
type Store struct {
	mu        sync.RWMutex
	summary   models.JobsSummary
	jobs      []models.Job
	lastSeq   uint64
	loaded    bool
	observers []func(Snapshot, Diff)
}

// New creates an empty store
func New() *Store {
	return &Store{}
}

// Replace applies resp if it is a success envelope that is not older than
// the last applied one. A zero sequence means the sender does not sequence
// snapshots and receipt order is trusted.
func (s *Store) Replace(resp *models.JobsResponse) (Diff, bool) {
	if resp == nil || resp.Status != models.ResponseStatusSuccess {
		return Diff{}, false
	}

	jobs := make([]models.Job, len(resp.AllJobs))
	copy(jobs, resp.AllJobs)

	s.mu.Lock()
	if resp.Sequence != 0 && s.lastSeq != 0 && resp.Sequence <= s.lastSeq {
		s.mu.Unlock()
		return Diff{}, false
	}

	diff := diffJobs(s.jobs, jobs)
	s.summary = resp.Summary
	s.jobs = jobs
	if resp.Sequence != 0 {
		s.lastSeq = resp.Sequence
	}
	s.loaded = true
	snap := s.snapshotLocked()
	observers := append([]func(Snapshot, Diff){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap, diff)
	}
	return diff, true
}

// Clear forgets everything, including the last sequence
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = models.JobsSummary{}
	s.jobs = nil
	s.lastSeq = 0
	s.loaded = false
}

// Snapshot returns a copy of summary and jobs in server order
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Summary returns the last summary
func (s *Store) Summary() models.JobsSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Len returns the number of jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Job looks up a job by id
func (s *Store) Job(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.JobID == id {
			return j, true
		}
	}
	return models.Job{}, false
}

// Ordered returns the jobs in display order
func (s *Store) Ordered() []models.Job {
	return Order(s.Snapshot().Jobs)
}

// OnChange registers fn for every applied snapshot
func (s *Store) OnChange(fn func(Snapshot, Diff)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) snapshotLocked() Snapshot {
	jobs := make([]models.Job, len(s.jobs))
	copy(jobs, s.jobs)
	return Snapshot{
		Summary:  s.summary,
		Jobs:     jobs,
		Sequence: s.lastSeq,
		Loaded:   s.loaded,
	}
}

// Order puts processing jobs first. Jobs of the same class keep server order.
func Order(jobs []models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	copy(out, jobs)
	sort.SliceStable(out, func(i, k int) bool {
		return out[i].Status == models.JobStatusProcessing && out[k].Status != models.JobStatusProcessing
	})
	return out
}

func diffJobs(prev, next []models.Job) Diff {
	var diff Diff
	before := make(map[string]models.Job, len(prev))
	for _, j := range prev {
		before[j.JobID] = j
	}
	seen := make(map[string]struct{}, len(next))
	for _, j := range next {
		seen[j.JobID] = struct{}{}
		old, ok := before[j.JobID]
		switch {
		case !ok:
			diff.Appeared = append(diff.Appeared, j)
		case old.Status != j.Status:
			diff.Transitions = append(diff.Transitions, Transition{Job: j, From: old.Status})
		}
	}
	for _, j := range prev {
		if _, ok := seen[j.JobID]; !ok {
			diff.Gone = append(diff.Gone, j)
		}
	}
	return diff
}
