package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"droneops-fleet/internal/telemetry"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

const defaultGreptimePort = 4001

// greptimeClient is the subset of *greptime.Client used here.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes announce rows to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client  greptimeClient
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database, tableName string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	if tableName == "" {
		tableName = telemetry.StatusTableName
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{
		client:  client,
		table:   tableName,
		timeout: 5 * time.Second,
		log:     log.With("component", "greptime"),
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("greptime endpoint %q: invalid port", endpoint)
	}
	return host, port, nil
}

// Write inserts a single status row.
func (w *GreptimeDBWriter) Write(row telemetry.StatusRow) error {
	return w.WriteBatch([]telemetry.StatusRow{row})
}

// WriteBatch inserts multiple status rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.StatusRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := w.statusTable(rows)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.log.Warn("write failed", "rows", len(rows), "err", err)
		return err
	}
	w.log.Debug("wrote rows", "rows", len(rows))
	return nil
}

func (w *GreptimeDBWriter) statusTable(rows []telemetry.StatusRow) (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, err
	}
	cols := []struct {
		name string
		tag  bool
		typ  types.ColumnType
	}{
		{"controller_id", true, types.STRING},
		{"drone_id", true, types.STRING},
		{"name", false, types.STRING},
		{"host", false, types.STRING},
		{"port", false, types.INT64},
		{"status", false, types.STRING},
		{"battery_voltage", false, types.FLOAT64},
		{"gps_fix", false, types.BOOLEAN},
		{"flight_mode", false, types.STRING},
		{"armed", false, types.BOOLEAN},
		{"signal_strength", false, types.INT64},
		{"firmware_version", false, types.STRING},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}

	for _, r := range rows {
		err := tbl.AddRow(
			r.ControllerID,
			r.DroneID,
			r.Name,
			r.Host,
			int64(r.Port),
			r.Status,
			r.BatteryVoltage,
			r.GPSFix,
			r.FlightMode,
			r.Armed,
			int64(r.SignalStrength),
			r.FirmwareVersion,
			r.Timestamp,
		)
		if err != nil {
			return nil, err
		}
	}
	return tbl, nil
}
