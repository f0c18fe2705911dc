// ColorStdoutWriter prints human-friendly, colorized status rows to STDOUT.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorGray    = "\x1b[90m"
)

// Battery thresholds in volts for a 3S pack.
const (
	lowBatteryV      = 11.1
	criticalBatteryV = 10.8
)

// ColorStdoutWriter prints status rows using ANSI colors.
type ColorStdoutWriter struct {
	cfg  *config.FleetConfig
	out  io.Writer
	once sync.Once
	mu   sync.Mutex
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.FleetConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Fleet Controller:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Discovery Port:\t%d\n", w.cfg.DiscoveryPort)
	fmt.Fprintf(tw, "Request Timeout:\t%s\n", w.cfg.RequestTimeout)
	fmt.Fprintf(tw, "Ping Timeout:\t%s\n", w.cfg.PingTimeout)
	fmt.Fprintf(tw, "Liveness TTL:\t%s\n", w.cfg.TTL)
	fmt.Fprintf(tw, "Encoding:\t%s\n", w.cfg.Encoding)
	fmt.Fprintf(tw, "Relay Commands:\t%t\n", w.cfg.RelayCommands)
	tw.Flush()
	fmt.Fprintln(w.out)
}

// Write outputs a single status row in colorized format.
func (w *ColorStdoutWriter) Write(row telemetry.StatusRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)

	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, row.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%sdrone=%s%s ", colorWhite, row.DroneID, colorReset)
	fmt.Fprintf(w.out, "%sname=%s%s ", colorBlue, row.Name, colorReset)
	fmt.Fprintf(w.out, "%saddr=%s:%d%s ", colorGray, row.Host, row.Port, colorReset)
	fmt.Fprintf(w.out, "%sbatt=%.2fV%s ", batteryColor(row.BatteryVoltage), row.BatteryVoltage, colorReset)
	fmt.Fprintf(w.out, "%smode=%s%s ", colorMagenta, row.FlightMode, colorReset)
	fmt.Fprintf(w.out, "%sarmed=%t%s ", armedColor(row.Armed), row.Armed, colorReset)
	fmt.Fprintf(w.out, "%sgps=%t%s ", colorCyan, row.GPSFix, colorReset)
	fmt.Fprintf(w.out, "%srssi=%d%s ", colorYellow, row.SignalStrength, colorReset)
	fmt.Fprintf(w.out, "%sstatus=%s%s", colorGreen, row.Status, colorReset)
	fmt.Fprintln(w.out)
	return nil
}

func batteryColor(v float64) string {
	switch {
	case v <= criticalBatteryV:
		return colorRed
	case v <= lowBatteryV:
		return colorYellow
	default:
		return colorGreen
	}
}

func armedColor(armed bool) string {
	if armed {
		return colorRed
	}
	return colorGreen
}
