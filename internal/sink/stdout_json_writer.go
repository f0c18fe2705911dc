package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"droneops-fleet/internal/telemetry"
)

// JSONStdoutWriter prints status rows as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a status row in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.StatusRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
