package jobregistry

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPathNotAllowed  = errors.New("path not allowed")
	ErrPathNotWritable = errors.New("path not writable")
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
	ErrShuttingDown    = errors.New("job manager shutting down")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidRequest:  ErrInvalidRequest,
	KindPathNotAllowed:  ErrPathNotAllowed,
	KindPathNotWritable: ErrPathNotWritable,
	KindNotFound:        ErrNotFound,
	KindAlreadyTerminal: ErrAlreadyTerminal,
	KindShuttingDown:    ErrShuttingDown,
}

// Error is a synchronous manager failure. It never describes a job's own
// runtime failure; those are recorded on the job as a JobError.
type Error struct {
	Kind    ErrorKind
	JobID   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.JobID != "" {
		return fmt.Sprintf("%s: job %s: %s", e.Kind, e.JobID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if the error references an unknown job.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyTerminal returns true if the job had already finished.
func IsAlreadyTerminal(err error) bool {
	return errors.Is(err, ErrAlreadyTerminal)
}

func notFound(id string) error {
	return &Error{Kind: KindNotFound, JobID: id, Message: "no such job"}
}
