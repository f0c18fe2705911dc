// Package agent is a simulated field unit. It announces itself to a
// controller and answers commands the way an onboard agent would, which
// makes it usable for demos and for end-to-end tests.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/telemetry"
	"droneops-fleet/internal/transport"
)

const (
	rtlAltitude     = 15.0
	firmwareVersion = "sim-1.0"
)

// Config describes one simulated drone.
type Config struct {
	ID    string
	Name  string
	Model string
	// Port is the command port; 0 picks a free one.
	Port int
	// Controller is the host:port announces go to. Empty disables
	// announcing.
	Controller       string
	AnnounceInterval time.Duration
	TickInterval     time.Duration
	Home             telemetry.Position
	Seed             int64
}

// Agent owns the drone state and its command socket.
type Agent struct {
	cfg   Config
	codec protocol.Codec
	log   *slog.Logger

	mu    sync.Mutex
	drone telemetry.Drone
	gen   *telemetry.Generator
	sock  *transport.Listener
}

// New creates an agent parked at cfg.Home with a full battery.
func New(cfg Config, codec protocol.Codec, log *slog.Logger) *Agent {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Model == "" {
		cfg.Model = "small-fpv"
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 5 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if codec == nil {
		codec = protocol.JSON
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:   cfg,
		codec: codec,
		log:   log.With("component", "agent", "drone_id", cfg.ID),
		gen:   telemetry.NewGenerator(cfg.Seed),
		drone: telemetry.Drone{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Model:          cfg.Model,
			Position:       cfg.Home,
			Home:           cfg.Home,
			BatteryVoltage: telemetry.BatteryFull,
			FlightMode:     telemetry.ModeStabilize,
			GPSFix:         true,
			SignalStrength: 95,
		},
	}
}

// Listen binds the command socket.
func (a *Agent) Listen(ctx context.Context) error {
	sock, err := transport.Listen(ctx, a.cfg.Port, 200*time.Millisecond)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.sock = sock
	a.mu.Unlock()
	return nil
}

// Port returns the bound command port, or the configured one before Listen.
func (a *Agent) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sock != nil {
		return a.sock.Port()
	}
	return a.cfg.Port
}

// Run serves commands, advances the simulation and announces until ctx is
// done. It binds the socket first when Listen was not called.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	bound := a.sock != nil
	a.mu.Unlock()
	if !bound {
		if err := a.Listen(ctx); err != nil {
			return err
		}
	}
	a.mu.Lock()
	sock := a.sock
	a.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.serve(ctx, sock)
	}()

	a.log.Info("simulated drone up", "port", sock.Port(), "controller", a.cfg.Controller)
	a.announce(ctx)
	tick := time.NewTicker(a.cfg.TickInterval)
	defer tick.Stop()
	ann := time.NewTicker(a.cfg.AnnounceInterval)
	defer ann.Stop()
	for {
		select {
		case <-ctx.Done():
			sock.Close()
			wg.Wait()
			return nil
		case <-tick.C:
			a.mu.Lock()
			a.gen.Advance(&a.drone)
			a.mu.Unlock()
		case <-ann.C:
			a.announce(ctx)
		}
	}
}

func (a *Agent) serve(ctx context.Context, sock *transport.Listener) {
	buf := make([]byte, transport.MaxDatagramSize)
	for ctx.Err() == nil {
		n, from, err := sock.Receive(buf)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			return
		default:
			a.log.Warn("receive failed", "err", err)
			continue
		}
		msg, codec, err := protocol.DecodeAny(buf[:n])
		if err != nil {
			a.log.Warn("dropping datagram", "from", from.String(), "err", err)
			continue
		}
		cmd, ok := msg.(*protocol.Command)
		if !ok {
			continue
		}
		res := a.Handle(cmd)
		resp := &protocol.CommandResponse{
			DroneID:   a.cfg.ID,
			Command:   cmd.Command,
			Result:    &res,
			Timestamp: protocol.Now(),
			RequestID: cmd.RequestID,
		}
		b, err := codec.Encode(resp)
		if err != nil {
			a.log.Error("encode response", "err", err)
			continue
		}
		if err := sock.SendTo(from, b); err != nil {
			a.log.Warn("send response", "to", from.String(), "err", err)
		}
	}
}

func (a *Agent) announce(ctx context.Context) {
	if a.cfg.Controller == "" {
		return
	}
	addr, err := transport.ResolveAddrString(a.cfg.Controller)
	if err != nil {
		a.log.Warn("bad controller address", "err", err)
		return
	}
	b, err := a.codec.Encode(a.Announce())
	if err != nil {
		a.log.Error("encode announce", "err", err)
		return
	}
	if err := transport.SendTo(ctx, addr, b); err != nil {
		a.log.Warn("announce failed", "err", err)
	}
}

// Announce describes the drone as it currently is.
func (a *Agent) Announce() *protocol.Announce {
	port := a.Port()
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.drone
	return &protocol.Announce{
		DroneID:         d.ID,
		Name:            d.Name,
		Port:            port,
		PixhawkStatus:   "connected",
		BatteryVoltage:  math.Round(d.BatteryVoltage*100) / 100,
		GPSFix:          d.GPSFix,
		FlightMode:      d.FlightMode,
		Armed:           d.Armed,
		SignalStrength:  d.SignalStrength,
		FirmwareVersion: firmwareVersion,
	}
}

// State returns a copy of the simulated drone.
func (a *Agent) State() telemetry.Drone {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.drone
	if d.Target != nil {
		t := *d.Target
		d.Target = &t
	}
	return d
}

// Step advances the simulation by one tick.
func (a *Agent) Step() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen.Advance(&a.drone)
}

// Handle applies one command to the drone state.
func (a *Agent) Handle(cmd *protocol.Command) protocol.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := &a.drone
	airborne := d.Position.Alt > 0

	switch cmd.Command {
	case dispatch.Arm:
		if d.BatteryVoltage <= telemetry.BatteryEmpty {
			return protocol.Failure("battery too low")
		}
		d.Armed = true
		return protocol.OK(map[string]any{"armed": true})
	case dispatch.Disarm:
		if airborne {
			return protocol.Failure("cannot disarm in flight")
		}
		d.Armed = false
		d.Target = nil
		return protocol.OK(map[string]any{"armed": false})
	case dispatch.Takeoff:
		if !d.Armed {
			return protocol.Failure("not armed")
		}
		alt, err := cmd.Params.FloatOr("altitude", dispatch.DefaultTakeoffAltitude)
		if err != nil || alt <= 0 {
			return protocol.Failure("invalid parameter altitude")
		}
		d.FlightMode = telemetry.ModeGuided
		d.Target = &telemetry.Position{Lat: d.Position.Lat, Lon: d.Position.Lon, Alt: alt}
		return protocol.OK(map[string]any{"target_altitude": alt})
	case dispatch.Land:
		if !d.Armed {
			return protocol.Failure("not armed")
		}
		d.FlightMode = telemetry.ModeLand
		d.Target = nil
		return protocol.OK(nil)
	case dispatch.ReturnToLaunch:
		if !d.Armed {
			return protocol.Failure("not armed")
		}
		d.FlightMode = telemetry.ModeRTL
		d.Target = &telemetry.Position{Lat: d.Home.Lat, Lon: d.Home.Lon, Alt: math.Max(d.Position.Alt, rtlAltitude)}
		return protocol.OK(nil)
	case dispatch.GotoLocation:
		if !d.Armed {
			return protocol.Failure("not armed")
		}
		lat, ok, err := cmd.Params.Float("latitude")
		if !ok || err != nil {
			return protocol.Failure("invalid parameter latitude")
		}
		lon, ok, err := cmd.Params.Float("longitude")
		if !ok || err != nil {
			return protocol.Failure("invalid parameter longitude")
		}
		alt, err := cmd.Params.FloatOr("altitude", dispatch.DefaultGotoAltitude)
		if err != nil {
			return protocol.Failure("invalid parameter altitude")
		}
		d.FlightMode = telemetry.ModeGuided
		d.Target = &telemetry.Position{Lat: lat, Lon: lon, Alt: alt}
		return protocol.OK(nil)
	case dispatch.GetTelemetry:
		return protocol.OK(d.Telemetry().Payload())
	case dispatch.Ping:
		return protocol.OK(nil)
	default:
		return protocol.Failure(dispatch.ErrUnknownCommand)
	}
}
