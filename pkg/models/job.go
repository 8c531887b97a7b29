package models

import (
	"math"
)

// JobStatus represents the server-side state of a processing job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// ResponseStatusSuccess is the only envelope status that carries a usable snapshot
const ResponseStatusSuccess = "success"

// Job is the client's copy of one server-tracked processing task.
// The client never creates or mutates these; it only caches the latest snapshot.
type Job struct {
	JobID       string    `json:"job_id"`
	FileName    string    `json:"file_name"`
	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"` // server range is arbitrary, see DisplayProgress
	Message     string    `json:"message,omitempty"`
	ElapsedTime float64   `json:"elapsed_time"` // seconds
}

// DisplayProgress returns the progress clamped to [0,100] and rounded
func (j Job) DisplayProgress() int {
	p := j.Progress
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return int(math.Round(p))
}

// JobsSummary is the server's own view of the queue. It is never derived
// from the job list because the server may count jobs differently.
type JobsSummary struct {
	TotalJobs             int  `json:"total_jobs"`
	QueueLength           int  `json:"queue_length"`
	QueueProcessorRunning bool `json:"queue_processor_running"`
}

// JobsResponse is the envelope pushed by the job feed socket
type JobsResponse struct {
	Status   string      `json:"status"`
	Summary  JobsSummary `json:"summary"`
	AllJobs  []Job       `json:"all_jobs"`
	Sequence uint64      `json:"sequence,omitempty"` // optional, monotonic when present
	Message  string      `json:"message,omitempty"`
}

// CompletedJobsResponse is returned by GET /jobs/completed
type CompletedJobsResponse struct {
	Status string `json:"status"`
	Jobs   []Job  `json:"jobs"`
}

// IsTerminalState returns true if the job will not change any further
func IsTerminalState(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// IsActiveState returns true if the job is queued or being worked on
func IsActiveState(status JobStatus) bool {
	return status == JobStatusQueued || status == JobStatusUploaded || status == JobStatusProcessing
}
