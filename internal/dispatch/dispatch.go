// Package dispatch maps command names to handlers that forward them to a
// field unit.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"droneops-fleet/internal/protocol"
)

// Command names understood by field units.
const (
	Arm            = "arm"
	Disarm         = "disarm"
	Takeoff        = "takeoff"
	Land           = "land"
	ReturnToLaunch = "return_to_launch"
	GotoLocation   = "goto_location"
	GetTelemetry   = "get_telemetry"
	Ping           = "ping"
)

// Default parameter values.
const (
	DefaultTakeoffAltitude = 10.0
	DefaultGotoAltitude    = 50.0
)

// ErrUnknownCommand is the error text returned for unregistered names.
const ErrUnknownCommand = "unknown command"

// Handler executes one command against a drone.
type Handler func(ctx context.Context, droneID string, params protocol.Params) protocol.CommandResult

// Sender puts a command on the wire and waits for the drone's answer.
type Sender interface {
	SendCommand(ctx context.Context, droneID, command string, params protocol.Params) protocol.CommandResult
}

// Dispatcher is a name to handler table. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs h under name, replacing any previous handler.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Lookup returns the handler for name.
func (d *Dispatcher) Lookup(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Names lists registered commands in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named command. Unknown names fail without side effects.
func (d *Dispatcher) Execute(ctx context.Context, droneID, name string, params protocol.Params) protocol.CommandResult {
	h, ok := d.Lookup(name)
	if !ok {
		return protocol.Failure(ErrUnknownCommand)
	}
	if params == nil {
		params = protocol.Params{}
	}
	return h(ctx, droneID, params)
}

// NewDefault registers the standard command set, each forwarding to s.
func NewDefault(s Sender) *Dispatcher {
	d := New()
	for _, name := range []string{Arm, Disarm, Land, ReturnToLaunch, GetTelemetry, Ping} {
		d.Register(name, forward(s, name))
	}
	d.Register(Takeoff, func(ctx context.Context, id string, p protocol.Params) protocol.CommandResult {
		alt, err := p.FloatOr("altitude", DefaultTakeoffAltitude)
		if err != nil {
			return invalid("altitude")
		}
		return s.SendCommand(ctx, id, Takeoff, protocol.Params{"altitude": alt})
	})
	d.Register(GotoLocation, func(ctx context.Context, id string, p protocol.Params) protocol.CommandResult {
		lat, ok, err := p.Float("latitude")
		if !ok || err != nil {
			return invalid("latitude")
		}
		lon, ok, err := p.Float("longitude")
		if !ok || err != nil {
			return invalid("longitude")
		}
		alt, err := p.FloatOr("altitude", DefaultGotoAltitude)
		if err != nil {
			return invalid("altitude")
		}
		return s.SendCommand(ctx, id, GotoLocation, protocol.Params{
			"latitude":  lat,
			"longitude": lon,
			"altitude":  alt,
		})
	})
	return d
}

func forward(s Sender, name string) Handler {
	return func(ctx context.Context, id string, _ protocol.Params) protocol.CommandResult {
		return s.SendCommand(ctx, id, name, protocol.Params{})
	}
}

func invalid(param string) protocol.CommandResult {
	return protocol.Failure("invalid parameter " + param)
}
