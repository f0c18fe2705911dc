package sink

import (
	"errors"
	"io"

	"droneops-fleet/internal/telemetry"
)

// MultiWriter fan-outs status rows to multiple writers. A failing writer
// does not stop the others; all errors are joined.
type MultiWriter struct {
	writers []StatusWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...StatusWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Write sends a row to all writers.
func (mw *MultiWriter) Write(row telemetry.StatusRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.StatusRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := WriteBatch(w, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that implements io.Closer.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
