// Writer implementation printing status rows to STDOUT
package sink

import (
	"io"
	"os"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/telemetry"
)

// StdoutWriter prints colorized rows on a terminal and JSON otherwise.
type StdoutWriter struct {
	colorize bool
	json     *JSONStdoutWriter
	color    *ColorStdoutWriter
}

// NewStdoutWriter picks the format from colorize, usually term.IsTerminal.
func NewStdoutWriter(cfg *config.FleetConfig, colorize bool) *StdoutWriter {
	return newStdoutWriter(os.Stdout, cfg, colorize)
}

func newStdoutWriter(out io.Writer, cfg *config.FleetConfig, colorize bool) *StdoutWriter {
	return &StdoutWriter{
		colorize: colorize,
		json:     &JSONStdoutWriter{out: out},
		color:    &ColorStdoutWriter{cfg: cfg, out: out},
	}
}

// Write outputs a single status row.
func (w *StdoutWriter) Write(row telemetry.StatusRow) error {
	if w.colorize {
		return w.color.Write(row)
	}
	return w.json.Write(row)
}
