// Package sink fans announce status rows out to logs, databases and the
// console.
package sink

import "droneops-fleet/internal/telemetry"

// StatusWriter receives one row per announce applied to the registry.
type StatusWriter interface {
	Write(telemetry.StatusRow) error
}

// Optional: writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.StatusRow) error
}

// Nop drops every row.
type Nop struct{}

func (Nop) Write(telemetry.StatusRow) error { return nil }

// WriteBatch writes rows through w, using its batch mode when available.
func WriteBatch(w StatusWriter, rows []telemetry.StatusRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
