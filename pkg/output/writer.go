package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/ytgrab/pkg/jobregistry"
)

// Writer emits job records as JSONL.
//
// Implementations must be safe for concurrent use. Each method emits one
// complete line.
type Writer interface {
	// WriteEvent emits one job event.
	WriteEvent(ctx context.Context, ev jobregistry.Event) error

	// WriteJob emits a job snapshot.
	WriteJob(ctx context.Context, job jobregistry.Job) error

	// Close stops further writes. The underlying writer is not closed.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w     io.Writer
	jobID string
	now   func() time.Time
	mu    sync.Mutex

	closed bool
}

// NewJSONLWriter creates a writer whose records carry jobID.
func NewJSONLWriter(w io.Writer, jobID string) *JSONLWriter {
	return &JSONLWriter{
		w:     w,
		jobID: jobID,
		now:   time.Now,
	}
}

// WriteEvent emits ev under the record type matching its kind.
func (jw *JSONLWriter) WriteEvent(ctx context.Context, ev jobregistry.Event) error {
	return jw.writeRecord(ctx, RecordType(ev.Kind()), ev)
}

// WriteJob emits a full job snapshot.
func (jw *JSONLWriter) WriteJob(ctx context.Context, job jobregistry.Job) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:  recordType,
		TS:    jw.now().UTC(),
		JobID: jw.jobID,
		Data:  dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
