package sink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/telemetry"
)

func TestStdoutWriterJSONFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newStdoutWriter(buf, nil, false)
	row := telemetry.StatusRow{DroneID: "d1", Timestamp: time.Unix(0, 0).UTC()}
	if err := w.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"drone_id":"d1"`) {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestStdoutWriterColorized(t *testing.T) {
	cfg := config.Default()
	buf := &bytes.Buffer{}
	w := newStdoutWriter(buf, cfg, true)
	row := telemetry.StatusRow{DroneID: "d1", Host: "10.0.0.5", Port: 14550, BatteryVoltage: 10.6, Timestamp: time.Unix(0, 0).UTC()}
	if err := w.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "Fleet Controller:") || !strings.Contains(output, "Discovery Port:") {
		t.Fatalf("overview not printed: %q", output)
	}
	if !strings.Contains(output, colorRed+"batt=10.60V") {
		t.Fatalf("expected critical battery in red: %q", output)
	}
	if !strings.Contains(output, "addr=10.0.0.5:14550") {
		t.Fatalf("expected address: %q", output)
	}

	buf.Reset()
	if err := w.Write(row); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if strings.Contains(buf.String(), "Fleet Controller:") {
		t.Fatalf("overview printed more than once")
	}
}
