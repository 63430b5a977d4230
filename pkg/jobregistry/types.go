package jobregistry

import "time"

// Status is the lifecycle state of a job.
//
// queued → running → {succeeded, failed, cancelled}. The last three are
// terminal: no transition leaves them.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrorKind classifies failures.
type ErrorKind string

const (
	KindInvalidRequest  ErrorKind = "InvalidRequest"
	KindPathNotAllowed  ErrorKind = "PathNotAllowed"
	KindPathNotWritable ErrorKind = "PathNotWritable"
	KindProbeFailed     ErrorKind = "ProbeFailed"
	KindFetchFailed     ErrorKind = "FetchFailed"
	KindCancelled       ErrorKind = "Cancelled"
	KindNotFound        ErrorKind = "NotFound"
	KindAlreadyTerminal ErrorKind = "AlreadyTerminal"
	KindShuttingDown    ErrorKind = "ShuttingDown"
)

// Request is the immutable snapshot of what a job was asked to do.
type Request struct {
	URL            string `json:"url"`
	FormatSelector string `json:"formatId"`
	TargetDir      string `json:"targetDir"`

	// EffectiveSelector is the selector actually handed to the fetcher after
	// audio-merge shaping. Empty until the job leaves queued.
	EffectiveSelector string `json:"effectiveSelector,omitempty"`
}

// JobError is the failure recorded on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is a point-in-time copy of one job. Values returned by the Manager
// are never mutated afterwards.
type Job struct {
	ID      string  `json:"id"`
	Status  Status  `json:"status"`
	Request Request `json:"request"`

	ProgressPercent int   `json:"progressPercent"`
	BytesDownloaded int64 `json:"bytesDownloaded,omitempty"`
	BytesTotal      int64 `json:"bytesTotal,omitempty"`

	ResultPath      string `json:"resultPath,omitempty"`
	HostDisplayPath string `json:"hostDisplayPath,omitempty"`
	RemoteURI       string `json:"remoteUri,omitempty"`

	Error           *JobError `json:"error,omitempty"`
	CancelRequested bool      `json:"cancelRequested,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// clone returns a deep copy safe to hand to callers.
func (j Job) clone() Job {
	out := j
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	return out
}
