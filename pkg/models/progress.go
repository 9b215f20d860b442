package models

import "time"

// ProgressType is the lifecycle tag of a progress update.
type ProgressType string

const (
	// ProgressConnected is the synthetic event sent on stream attach (seq 0).
	ProgressConnected ProgressType = "connected"
	// ProgressStarted indicates a request began executing.
	ProgressStarted ProgressType = "started"
	// ProgressTaskStarted indicates a leaf task began executing.
	ProgressTaskStarted ProgressType = "task_started"
	// ProgressTaskCompleted indicates a leaf task completed.
	ProgressTaskCompleted ProgressType = "task_completed"
	// ProgressTaskFailed indicates a leaf task failed.
	ProgressTaskFailed ProgressType = "task_failed"
	// ProgressTaskBlocked indicates a leaf task was blocked by an unmet dependency.
	ProgressTaskBlocked ProgressType = "task_blocked"
	// ProgressTaskSkipped indicates a leaf task became moot and was not executed.
	ProgressTaskSkipped ProgressType = "task_skipped"
	// ProgressStepStarted indicates a flat workflow step began.
	ProgressStepStarted ProgressType = "step_started"
	// ProgressCompleted is the terminal success event for a session.
	ProgressCompleted ProgressType = "completed"
	// ProgressError is the terminal failure event for a session.
	ProgressError ProgressType = "error"
)

// Terminal returns true for event types that end a session.
func (t ProgressType) Terminal() bool {
	return t == ProgressCompleted || t == ProgressError
}

// ProgressUpdate is an immutable progress event for one session.
//
// Seq is assigned by the event bus before delivery and is strictly increasing
// within a session. It lives in the payload (not the transport) so a
// reconnecting client can resume from the last id it saw after JSON
// re-serialization.
type ProgressUpdate struct {
	// SessionID identifies the session this update belongs to.
	SessionID string `json:"session_id"`
	// Type is the lifecycle tag.
	Type ProgressType `json:"type"`
	// Message is the human-readable progress message.
	Message string `json:"message"`
	// Progress is the completion percentage, 0-100.
	Progress int `json:"progress"`
	// Details carries an optional structured payload.
	Details map[string]any `json:"details,omitempty"`
	// Timestamp is when the update was accepted by the bus.
	Timestamp time.Time `json:"timestamp"`
	// Seq is the server-assigned per-session sequence id.
	Seq uint64 `json:"seq"`
}
