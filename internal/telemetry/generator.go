package telemetry

import (
	"math"
	"math/rand"

	"droneops-fleet/internal/protocol"
)

const (
	metersPerDegree = 111000
	arrivalRadiusM  = 2.0
	climbRate       = 2.5 // m per tick
	descentRate     = 1.5 // m per tick
)

// Generator advances simulated drones one tick at a time.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator. The same seed yields the same walk.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Advance moves the drone according to its mode and drains the battery.
func (g *Generator) Advance(d *Drone) {
	airborne := d.Armed && d.Position.Alt > 0
	switch {
	case !d.Armed:
		d.Target = nil
	case d.FlightMode == ModeLand:
		d.Position.Alt = math.Max(0, d.Position.Alt-descentRate)
		if d.Position.Alt == 0 {
			d.Armed = false
			d.FlightMode = ModeStabilize
		}
	case d.Target != nil:
		d.Position = stepToward(d.Position, *d.Target, speed(d.Model))
		if distance(d.Position, *d.Target) <= arrivalRadiusM && math.Abs(d.Position.Alt-d.Target.Alt) < 0.5 {
			d.Target = nil
			if d.FlightMode == ModeRTL {
				d.FlightMode = ModeLand
			} else {
				d.FlightMode = ModeLoiter
			}
		}
	case airborne:
		d.Position = g.randomWalk(d.Position)
	}

	drain := batteryDrain(d.Model) * (BatteryFull - BatteryEmpty) / 100
	if !airborne {
		drain /= 10
	}
	d.BatteryVoltage = math.Max(BatteryEmpty, d.BatteryVoltage-drain)
}

// Telemetry reports the drone state in the get_telemetry shape.
func (d *Drone) Telemetry() protocol.Telemetry {
	return protocol.Telemetry{
		Lat:            d.Position.Lat,
		Lon:            d.Position.Lon,
		Alt:            d.Position.Alt,
		BatteryVoltage: round2(d.BatteryVoltage),
		FlightMode:     d.FlightMode,
		Armed:          d.Armed,
		GPSFix:         d.GPSFix,
	}
}

// randomWalk drifts a hovering drone by up to a metre.
func (g *Generator) randomWalk(pos Position) Position {
	heading := g.rng.Float64() * 2 * math.Pi
	drift := g.rng.Float64()

	deltaLat := (drift * math.Cos(heading)) / metersPerDegree
	deltaLon := (drift * math.Sin(heading)) / (metersPerDegree * math.Cos(pos.Lat*math.Pi/180))
	altDelta := g.rng.Float64() - 0.5

	return Position{
		Lat: pos.Lat + deltaLat,
		Lon: pos.Lon + deltaLon,
		Alt: math.Max(1, pos.Alt+altDelta),
	}
}

// stepToward moves at most speed metres horizontally and climbRate
// vertically in the direction of target.
func stepToward(pos, target Position, speed float64) Position {
	next := pos
	d := distance(pos, target)
	if d <= speed {
		next.Lat, next.Lon = target.Lat, target.Lon
	} else {
		f := speed / d
		next.Lat += (target.Lat - pos.Lat) * f
		next.Lon += (target.Lon - pos.Lon) * f
	}
	dAlt := target.Alt - pos.Alt
	if math.Abs(dAlt) <= climbRate {
		next.Alt = target.Alt
	} else {
		next.Alt += math.Copysign(climbRate, dAlt)
	}
	return next
}

// distance is the horizontal distance in metres (equirectangular).
func distance(a, b Position) float64 {
	dLat := (b.Lat - a.Lat) * metersPerDegree
	dLon := (b.Lon - a.Lon) * metersPerDegree * math.Cos(a.Lat*math.Pi/180)
	return math.Hypot(dLat, dLon)
}

// speed returns cruise speed in m/s by model.
func speed(model string) float64 {
	switch model {
	case "small-fpv":
		return 20
	case "medium-uav":
		return 15
	case "large-uav":
		return 12
	default:
		return 10
	}
}

// batteryDrain returns percent of capacity used per airborne tick by model.
func batteryDrain(model string) float64 {
	switch model {
	case "small-fpv":
		return 0.5
	case "medium-uav":
		return 0.3
	case "large-uav":
		return 0.2
	default:
		return 0.4
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
