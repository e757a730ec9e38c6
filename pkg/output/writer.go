package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits pass report records.
//
// Implementations must be safe for concurrent use.
type Writer interface {
	WriteLeaf(ctx context.Context, leaf *LeafRecord) error
	WriteRun(ctx context.Context, run *RunRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close marks the writer closed. Later writes return ErrWriterClosed.
	Close() error
}

// JSONLWriter writes one JSON envelope per line.
type JSONLWriter struct {
	w      io.Writer
	passID string
	dryRun bool
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter returns a writer tagging every record with passID.
func NewJSONLWriter(w io.Writer, passID string, dryRun bool) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		passID: passID,
		dryRun: dryRun,
		now:    time.Now,
	}
}

func (jw *JSONLWriter) WriteLeaf(ctx context.Context, leaf *LeafRecord) error {
	return jw.writeRecord(ctx, TypeLeaf, leaf)
}

func (jw *JSONLWriter) WriteRun(ctx context.Context, run *RunRecord) error {
	return jw.writeRecord(ctx, TypeRun, run)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed. The underlying writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// writeRecord holds the mutex for the whole line so records never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:   recordType,
		TS:     jw.now().UTC(),
		PassID: jw.passID,
		DryRun: jw.dryRun,
		Data:   payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return a short write with a nil error.
	line = append(line, '\n')
	if err := writeAll(jw.w, line); err != nil {
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

// Discard drops every record.
type Discard struct{}

func (Discard) WriteLeaf(context.Context, *LeafRecord) error       { return nil }
func (Discard) WriteRun(context.Context, *RunRecord) error         { return nil }
func (Discard) WriteError(context.Context, *ErrorRecord) error     { return nil }
func (Discard) WriteSummary(context.Context, *SummaryRecord) error { return nil }
func (Discard) Close() error                                       { return nil }

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = Discard{}
)
