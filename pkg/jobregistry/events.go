package jobregistry

import "encoding/json"

// EventKind discriminates the Event variants on the wire.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is one normalized progress message. The concrete types are
// StatusEvent, ProgressEvent, CompleteEvent and ErrorEvent.
type Event interface {
	Kind() EventKind
	// Terminal reports whether this is the last event of its job.
	Terminal() bool
}

// StatusEvent announces a state change. A cancelled job ends with a
// StatusEvent carrying StatusCancelled.
type StatusEvent struct {
	Status Status
}

func (StatusEvent) Kind() EventKind  { return EventStatus }
func (e StatusEvent) Terminal() bool { return e.Status.Terminal() }

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   EventKind `json:"type"`
		Status Status    `json:"status"`
	}{EventStatus, e.Status})
}

// ProgressEvent carries the mapped, monotonic percent.
type ProgressEvent struct {
	Percent         int
	BytesDownloaded int64
	BytesTotal      int64
	// Speed in bytes per second and ETA in seconds, zero when unknown.
	Speed float64
	ETA   int64
}

func (ProgressEvent) Kind() EventKind { return EventProgress }
func (ProgressEvent) Terminal() bool  { return false }

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            EventKind `json:"type"`
		ProgressPercent int       `json:"progressPercent"`
		BytesDownloaded int64     `json:"bytesDownloaded,omitempty"`
		BytesTotal      int64     `json:"bytesTotal,omitempty"`
		Speed           float64   `json:"speed,omitempty"`
		ETA             int64     `json:"eta,omitempty"`
	}{EventProgress, e.Percent, e.BytesDownloaded, e.BytesTotal, e.Speed, e.ETA})
}

// CompleteEvent is the terminal event of a succeeded job.
type CompleteEvent struct {
	ResultPath      string
	HostDisplayPath string
	RemoteURI       string
}

func (CompleteEvent) Kind() EventKind { return EventComplete }
func (CompleteEvent) Terminal() bool  { return true }

func (e CompleteEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            EventKind `json:"type"`
		Status          Status    `json:"status"`
		ProgressPercent int       `json:"progressPercent"`
		ResultPath      string    `json:"resultPath"`
		HostDisplayPath string    `json:"hostDisplayPath,omitempty"`
		RemoteURI       string    `json:"remoteUri,omitempty"`
	}{EventComplete, StatusSucceeded, 100, e.ResultPath, e.HostDisplayPath, e.RemoteURI})
}

// ErrorEvent is the terminal event of a failed job.
type ErrorEvent struct {
	ErrKind ErrorKind
	Message string
}

func (ErrorEvent) Kind() EventKind { return EventError }
func (ErrorEvent) Terminal() bool  { return true }

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   EventKind `json:"type"`
		Status Status    `json:"status"`
		Error  JobError  `json:"error"`
	}{EventError, StatusFailed, JobError{Kind: e.ErrKind, Message: e.Message}})
}

// TerminalEvent returns the final event matching a terminal job snapshot,
// or nil when the job is still active.
func TerminalEvent(j Job) Event {
	switch j.Status {
	case StatusSucceeded:
		return CompleteEvent{ResultPath: j.ResultPath, HostDisplayPath: j.HostDisplayPath, RemoteURI: j.RemoteURI}
	case StatusFailed:
		ev := ErrorEvent{ErrKind: KindFetchFailed}
		if j.Error != nil {
			ev.ErrKind = j.Error.Kind
			ev.Message = j.Error.Message
		}
		return ev
	case StatusCancelled:
		return StatusEvent{Status: StatusCancelled}
	}
	return nil
}
