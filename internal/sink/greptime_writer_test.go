package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/telemetry"
)

type mockGreptimeClient struct {
	table *table.Table
	err   error
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	if len(tables) > 0 {
		m.table = tables[0]
	}
	return &gpb.GreptimeResponse{}, m.err
}

func columnIndex(t *testing.T, rows *gpb.Rows, name string) int {
	t.Helper()
	for i, c := range rows.Schema {
		if c.ColumnName == name {
			return i
		}
	}
	t.Fatalf("column %s not found", name)
	return -1
}

func TestGreptimeWriterStatusRows(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	rows := []telemetry.StatusRow{{
		ControllerID:   "ctl",
		DroneID:        "drone-1",
		Host:           "10.0.0.5",
		Port:           14550,
		BatteryVoltage: 12.4,
		GPSFix:         true,
		FlightMode:     "GUIDED",
		SignalStrength: -60,
		Timestamp:      ts,
	}}

	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, table: "drone_status", timeout: time.Second, log: logging.Discard()}
	if err := w.WriteBatch(rows); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if m.table == nil {
		t.Fatalf("expected table to be captured")
	}

	got := m.table.GetRows()
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got.Rows))
	}
	if got.Schema[columnIndex(t, got, "drone_id")].SemanticType != gpb.SemanticType_TAG {
		t.Fatalf("drone_id should be a tag")
	}
	vals := got.Rows[0].Values
	if v := vals[columnIndex(t, got, "drone_id")].GetStringValue(); v != "drone-1" {
		t.Fatalf("drone_id = %s", v)
	}
	if v := vals[columnIndex(t, got, "battery_voltage")].GetF64Value(); v != 12.4 {
		t.Fatalf("battery_voltage = %f", v)
	}
	if v := vals[columnIndex(t, got, "port")].GetI64Value(); v != 14550 {
		t.Fatalf("port = %d", v)
	}
	if v := vals[columnIndex(t, got, "gps_fix")].GetBoolValue(); !v {
		t.Fatalf("gps_fix = %v", v)
	}
	if v := vals[columnIndex(t, got, "ts")].GetTimestampMillisecondValue(); v != ts.UnixMilli() {
		t.Fatalf("ts = %d, want %d", v, ts.UnixMilli())
	}
}

func TestGreptimeWriterError(t *testing.T) {
	m := &mockGreptimeClient{err: errors.New("unavailable")}
	w := &GreptimeDBWriter{client: m, table: "drone_status", timeout: time.Second, log: logging.Discard()}
	if err := w.Write(telemetry.StatusRow{DroneID: "d"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := w.WriteBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"localhost", "localhost", 4001},
		{"db.local:4101", "db.local", 4101},
	}
	for _, c := range cases {
		host, port, err := splitEndpoint(c.in)
		if err != nil || host != c.host || port != c.port {
			t.Errorf("splitEndpoint(%q) = %s, %d, %v", c.in, host, port, err)
		}
	}
	if _, _, err := splitEndpoint("db:abc"); err == nil {
		t.Errorf("expected invalid port error")
	}
}
