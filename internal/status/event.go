package status

import "time"

// EventKind classifies a loop iteration outcome.
type EventKind string

const (
	EventUploadOK      EventKind = "upload_ok"
	EventUploadFailed  EventKind = "upload_failed"
	EventCaptureFailed EventKind = "capture_failed"
	EventReconnect     EventKind = "reconnect"
)

// Event is published once per loop iteration and streamed on /events.
type Event struct {
	Time       time.Time `json:"time"`
	Kind       EventKind `json:"kind"`
	Sequence   uint64    `json:"sequence,omitempty"`
	FrameBytes int       `json:"frameBytes,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	DurationMs float64   `json:"durationMs,omitempty"`
	Error      string    `json:"error,omitempty"`
}
