// Status rows and simulated drone state with greptime tags
package telemetry

import (
	"os"
	"time"

	"droneops-fleet/internal/protocol"
)

// StatusRow is one announce as seen by the controller, ready for the
// status sinks.
type StatusRow struct {
	ControllerID    string    `json:"controller_id"`    // TAG
	DroneID         string    `json:"drone_id"`         // TAG
	Name            string    `json:"name"`             // FIELD
	Host            string    `json:"host"`             // FIELD
	Port            int       `json:"port"`             // FIELD
	Status          string    `json:"status"`           // FIELD
	BatteryVoltage  float64   `json:"battery_voltage"`  // FIELD
	GPSFix          bool      `json:"gps_fix"`          // FIELD
	FlightMode      string    `json:"flight_mode"`      // FIELD
	Armed           bool      `json:"armed"`            // FIELD
	SignalStrength  int       `json:"signal_strength"`  // FIELD
	FirmwareVersion string    `json:"firmware_version"` // FIELD
	Timestamp       time.Time `json:"ts"`               // TIME INDEX
}

// StatusTableName holds the table name used when writing to GreptimeDB.
// It defaults to "drone_status" but can be overridden via the
// GREPTIMEDB_TABLE environment variable.
var StatusTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "drone_status"
}()

func (StatusRow) TableName() string {
	return StatusTableName
}

// Announce rebuilds the announce a row was made from. The address is not
// part of the payload.
func (r StatusRow) Announce() *protocol.Announce {
	return &protocol.Announce{
		DroneID:         r.DroneID,
		Name:            r.Name,
		Port:            r.Port,
		PixhawkStatus:   r.Status,
		BatteryVoltage:  r.BatteryVoltage,
		GPSFix:          r.GPSFix,
		FlightMode:      r.FlightMode,
		Armed:           r.Armed,
		SignalStrength:  r.SignalStrength,
		FirmwareVersion: r.FirmwareVersion,
	}
}

// FromAnnounce builds the row for an announce received from host.
func FromAnnounce(controllerID, host string, a *protocol.Announce, ts time.Time) StatusRow {
	return StatusRow{
		ControllerID:    controllerID,
		DroneID:         a.DroneID,
		Name:            a.Name,
		Host:            host,
		Port:            a.Port,
		Status:          a.PixhawkStatus,
		BatteryVoltage:  a.BatteryVoltage,
		GPSFix:          a.GPSFix,
		FlightMode:      a.FlightMode,
		Armed:           a.Armed,
		SignalStrength:  a.SignalStrength,
		FirmwareVersion: a.FirmwareVersion,
		Timestamp:       ts.UTC(),
	}
}

// Drone holds runtime state for a simulated drone.
type Drone struct {
	ID             string
	Name           string
	Model          string
	Position       Position
	Home           Position
	Target         *Position
	BatteryVoltage float64
	Armed          bool
	FlightMode     string
	GPSFix         bool
	SignalStrength int
}

// Position holds latitude, longitude, and altitude.
type Position struct {
	Lat float64
	Lon float64
	Alt float64
}

// Flight modes reported by simulated drones.
const (
	ModeStabilize = "STABILIZE"
	ModeGuided    = "GUIDED"
	ModeLand      = "LAND"
	ModeRTL       = "RTL"
	ModeLoiter    = "LOITER"
)

// Battery limits of a 3S pack in volts.
const (
	BatteryFull  = 12.6
	BatteryEmpty = 10.5
)
