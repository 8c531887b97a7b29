package models

import "time"

// StreamMessageFrame is the only stream message type that updates the display
const StreamMessageFrame = "frame"

// StreamMessage is one server->client message on the video stream socket
type StreamMessage struct {
	Type      string `json:"type"`
	FrameData string `json:"frame_data,omitempty"` // base64 JPEG
}

// Frame is a decoded video frame for one job
type Frame struct {
	JobID      string
	Data       []byte // JPEG bytes
	Sequence   uint64
	ReceivedAt time.Time
}
