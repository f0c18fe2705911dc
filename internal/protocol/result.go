package protocol

import (
	"encoding/json"
)

// CommandResult is the outcome of a command. Payload holds whatever extra
// keys the unit returned, for example GPS data for get_telemetry.
//
// On the wire the payload is flattened next to success/error:
//
//	{"success":true,"battery_voltage":12.4,"gps":{"lat":1,"lon":2,"alt":3}}
type CommandResult struct {
	Success bool
	Error   string
	Payload map[string]any
}

// Failure builds an unsuccessful result.
func Failure(msg string) CommandResult {
	return CommandResult{Success: false, Error: msg}
}

// OK builds a successful result with an optional payload.
func OK(payload map[string]any) CommandResult {
	return CommandResult{Success: true, Payload: payload}
}

func (r CommandResult) toMap() map[string]any {
	m := make(map[string]any, len(r.Payload)+2)
	for k, v := range r.Payload {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Error != "" {
		m["error"] = r.Error
	} else {
		delete(m, "error")
	}
	return m
}

func (r *CommandResult) fromMap(m map[string]any) {
	*r = CommandResult{}
	if s, ok := m["success"].(bool); ok {
		r.Success = s
	}
	if e, ok := m["error"].(string); ok {
		r.Error = e
	}
	for k, v := range m {
		if k == "success" || k == "error" {
			continue
		}
		if r.Payload == nil {
			r.Payload = make(map[string]any)
		}
		r.Payload[k] = v
	}
}

func (r CommandResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toMap())
}

func (r *CommandResult) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.fromMap(m)
	return nil
}

func (r CommandResult) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(r.toMap())
}

func (r *CommandResult) UnmarshalCBOR(b []byte) error {
	var m map[string]any
	if err := cborDec.Unmarshal(b, &m); err != nil {
		return err
	}
	r.fromMap(m)
	return nil
}

// Telemetry is the typed view of a get_telemetry payload.
type Telemetry struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Alt            float64 `json:"alt"`
	BatteryVoltage float64 `json:"battery_voltage"`
	FlightMode     string  `json:"flight_mode"`
	Armed          bool    `json:"armed"`
	GPSFix         bool    `json:"gps_fix"`
}

// Payload renders telemetry in the shape field units reply with.
func (t Telemetry) Payload() map[string]any {
	return map[string]any{
		"gps":             map[string]any{"lat": t.Lat, "lon": t.Lon, "alt": t.Alt},
		"battery_voltage": t.BatteryVoltage,
		"flight_mode":     t.FlightMode,
		"armed":           t.Armed,
		"gps_fix":         t.GPSFix,
	}
}

// Telemetry extracts telemetry from the payload. Coordinates may be nested
// under "gps" or flat; missing values stay zero.
func (r CommandResult) Telemetry() Telemetry {
	var t Telemetry
	p := r.Payload
	src := p
	if gps, ok := p["gps"].(map[string]any); ok {
		src = gps
	}
	t.Lat, _ = numberOf(src, "lat", "latitude")
	t.Lon, _ = numberOf(src, "lon", "longitude")
	t.Alt, _ = numberOf(src, "alt", "altitude")
	t.BatteryVoltage, _ = numberOf(p, "battery_voltage", "battery")
	t.FlightMode, _ = p["flight_mode"].(string)
	if t.FlightMode == "" {
		t.FlightMode, _ = p["mode"].(string)
	}
	t.Armed, _ = p["armed"].(bool)
	t.GPSFix, _ = p["gps_fix"].(bool)
	return t
}

func numberOf(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if raw, ok := m[k]; ok {
			if v, err := toFloat(raw); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
