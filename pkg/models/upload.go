package models

import "time"

// UploadStatus represents where a single file is in the upload flow
type UploadStatus string

const (
	UploadStatusPending     UploadStatus = "pending"
	UploadStatusUploading   UploadStatus = "uploading"
	UploadStatusRegistering UploadStatus = "registering"
	UploadStatusCompleted   UploadStatus = "completed"
	UploadStatusFailed      UploadStatus = "failed"
	UploadStatusCancelled   UploadStatus = "cancelled"
	UploadStatusRejected    UploadStatus = "rejected" // failed local validation, never sent
)

// UploadResponse is returned by POST /video/upload
type UploadResponse struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Video is the metadata record created for every successfully uploaded file
type Video struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	FileName    string    `json:"file_name" yaml:"file_name"`
	ContentType string    `json:"content_type" yaml:"content_type"`
	SizeBytes   int64     `json:"size_bytes" yaml:"size_bytes"`
	JobID       string    `json:"job_id" yaml:"job_id"`
	StreamURL   string    `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}
