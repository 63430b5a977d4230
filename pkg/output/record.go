// Package output writes job events as JSON Lines.
//
// Every line is a typed record envelope. The data payload of an event
// record is the same JSON the websocket stream carries, so consumers can
// share a decoder.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/ytgrab/pkg/jobregistry"
)

// Record types follow the pattern ytgrab.<type>.v<version>.
const (
	// TypeStatus identifies job status changes.
	TypeStatus = "ytgrab.status.v1"

	// TypeProgress identifies progress updates.
	TypeProgress = "ytgrab.progress.v1"

	// TypeComplete identifies the terminal record of a succeeded job.
	TypeComplete = "ytgrab.complete.v1"

	// TypeError identifies the terminal record of a failed job.
	TypeError = "ytgrab.error.v1"

	// TypeJob identifies a full job snapshot.
	TypeJob = "ytgrab.job.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "ytgrab.progress.v1").
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// JobID correlates the record with its job.
	JobID string `json:"job_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RecordType maps an event kind to its record type.
func RecordType(kind jobregistry.EventKind) string {
	switch kind {
	case jobregistry.EventStatus:
		return TypeStatus
	case jobregistry.EventProgress:
		return TypeProgress
	case jobregistry.EventComplete:
		return TypeComplete
	case jobregistry.EventError:
		return TypeError
	}
	return "ytgrab." + string(kind) + ".v1"
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
