// Package fleet is the facade the host application talks to. It ties the
// discovery listener, the drone registry and the command dispatcher
// together behind a small synchronous API.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/discovery"
	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/metrics"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/sink"
	"droneops-fleet/internal/transport"

	"github.com/google/uuid"
)

// SystemStatus is the health summary served to the web layer.
type SystemStatus struct {
	ServerRunning   bool      `json:"server_running"`
	DiscoveryPort   int       `json:"discovery_port"`
	ActiveDrones    int       `json:"active_drones"`
	ConnectedDrones int       `json:"connected_drones"`
	LastUpdate      time.Time `json:"last_update"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller and its listener.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithSink forwards a status row for every announce.
func WithSink(w sink.StatusWriter) Option {
	return func(c *Controller) { c.sink = w }
}

// WithMetrics replaces the controller's own collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock drives registry expiry, handy for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithControllerID names this controller in status rows.
func WithControllerID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// Controller discovers drones and sends them commands.
type Controller struct {
	cfg      *config.FleetConfig
	id       string
	codec    protocol.Codec
	reg      *registry.Registry
	disp     *dispatch.Dispatcher
	listener *discovery.Listener
	metrics  *metrics.Metrics
	sink     sink.StatusWriter
	log      *slog.Logger
	now      func() time.Time
}

// New builds a stopped controller. A nil cfg uses config.Default().
func New(cfg *config.FleetConfig, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	codec, err := protocol.CodecByName(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:   cfg,
		id:    "fleet-controller",
		codec: codec,
		sink:  sink.Nop{},
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.reg = registry.New(cfg.TTL, registry.WithClock(c.now))
	if c.metrics == nil {
		c.metrics = metrics.New(func() float64 { return float64(c.reg.Len()) })
	}

	c.disp = dispatch.NewDefault(c)
	c.disp.Register(dispatch.Ping, func(ctx context.Context, id string, _ protocol.Params) protocol.CommandResult {
		return c.Ping(ctx, id)
	})

	lopts := []discovery.Option{
		discovery.WithSink(c.sink),
		discovery.WithMetrics(c.metrics),
		discovery.WithLogger(c.log),
	}
	if cfg.RelayCommands {
		lopts = append(lopts, discovery.WithRelay(func(ctx context.Context, cmd *protocol.Command) protocol.CommandResult {
			return c.Execute(ctx, cmd.TargetDrone, cmd.Command, cmd.Params)
		}))
	}
	c.listener = discovery.New(discovery.Config{
		Port:         cfg.DiscoveryPort,
		ReadTimeout:  cfg.ReadTimeout,
		ErrorBackoff: cfg.ErrorBackoff,
		ControllerID: c.id,
	}, c.reg, lopts...)
	c.log = c.log.With("component", "fleet")
	return c, nil
}

// Start binds the discovery port and starts listening. A bind failure is
// logged and reported as false; commands to already known drones keep
// working.
func (c *Controller) Start(ctx context.Context) bool {
	if err := c.listener.Start(ctx); err != nil {
		var be *transport.BindError
		if errors.As(err, &be) && be.InUse() {
			c.log.Error("discovery port in use, discovery disabled", "port", be.Port)
		} else {
			c.log.Error("failed to start discovery", "err", err)
		}
		return false
	}
	return true
}

// Stop halts discovery. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.listener.Stop()
}

// Running reports whether the discovery listener is up.
func (c *Controller) Running() bool { return c.listener.Running() }

// Port is the bound discovery port.
func (c *Controller) Port() int { return c.listener.Port() }

// Metrics exposes the collectors, for the admin /metrics endpoint.
func (c *Controller) Metrics() *metrics.Metrics { return c.metrics }

// Commands lists the command names Execute accepts.
func (c *Controller) Commands() []string { return c.disp.Names() }

// ListDrones returns the live drones after evicting stale ones.
func (c *Controller) ListDrones() map[string]registry.DroneRecord {
	return c.reg.Snapshot()
}

// Drone returns one live record.
func (c *Controller) Drone(id string) (registry.DroneRecord, error) {
	return c.reg.Get(id)
}

// Disconnect forgets a drone until it announces again.
func (c *Controller) Disconnect(id string) bool {
	ok := c.reg.Remove(id)
	if ok {
		c.log.Info("drone disconnected", "drone_id", id)
	}
	return ok
}

// SystemStatus summarises the controller for health checks.
func (c *Controller) SystemStatus() SystemStatus {
	return SystemStatus{
		ServerRunning:   c.listener.Running(),
		DiscoveryPort:   c.listener.Port(),
		ActiveDrones:    c.reg.Len(),
		ConnectedDrones: c.reg.Count(registry.StatusConnected),
		LastUpdate:      c.now().UTC(),
	}
}

// Execute validates params and runs a named command through the dispatcher.
func (c *Controller) Execute(ctx context.Context, id, command string, params protocol.Params) protocol.CommandResult {
	return c.disp.Execute(ctx, id, command, params)
}

// SendCommand sends one command to a drone and waits for its response
// within the request timeout. It never returns an error: every failure is
// reported in the result.
func (c *Controller) SendCommand(ctx context.Context, id, command string, params protocol.Params) protocol.CommandResult {
	return c.send(ctx, id, command, params, c.cfg.RequestTimeout)
}

func (c *Controller) send(ctx context.Context, id, command string, params protocol.Params, timeout time.Duration) protocol.CommandResult {
	start := time.Now()
	res := c.exchange(ctx, id, command, params, timeout)
	c.metrics.Commands.WithLabelValues(command, metrics.Outcome(res.Success)).Inc()
	c.metrics.CommandLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if !res.Success {
		c.log.Warn("command failed", "drone_id", id, "command", command, "err", res.Error)
	}
	return res
}

func (c *Controller) exchange(ctx context.Context, id, command string, params protocol.Params, timeout time.Duration) protocol.CommandResult {
	rec, err := c.reg.Get(id)
	if err != nil {
		return protocol.Failure(registry.ErrNotFound.Error())
	}
	addr, err := transport.ResolveAddr(rec.Addr.Host, rec.Addr.Port)
	if err != nil {
		return protocol.Failure(err.Error())
	}
	if params == nil {
		params = protocol.Params{}
	}
	cmd := &protocol.Command{
		Command:     command,
		TargetDrone: id,
		Params:      params,
		Timestamp:   protocol.Now(),
		RequestID:   uuid.NewString(),
	}
	payload, err := c.codec.Encode(cmd)
	if err != nil {
		return protocol.Failure(err.Error())
	}

	var resp *protocol.CommandResponse
	_, err = transport.ExchangeMatch(ctx, addr, payload, timeout, func(b []byte) bool {
		msg, _, err := protocol.DecodeAny(b)
		if err != nil {
			c.log.Debug("ignoring undecodable reply", "drone_id", id, "err", err)
			return false
		}
		r, ok := msg.(*protocol.CommandResponse)
		if !ok {
			return false
		}
		if r.RequestID != "" && r.RequestID != cmd.RequestID {
			c.log.Debug("ignoring reply for another request", "drone_id", id, "request_id", r.RequestID)
			return false
		}
		resp = r
		return true
	})
	switch {
	case err == nil:
		return resp.Outcome()
	case errors.Is(err, transport.ErrTimeout):
		return protocol.Failure(fmt.Sprintf("timeout: drone unreachable after %s", timeout))
	default:
		return protocol.Failure(err.Error())
	}
}

// Ping checks a drone with the shorter ping timeout. The record is marked
// connected with the measured latency on success and disconnected on
// failure.
func (c *Controller) Ping(ctx context.Context, id string) protocol.CommandResult {
	start := time.Now()
	res := c.send(ctx, id, dispatch.Ping, protocol.Params{}, c.cfg.PingTimeout)
	latency := time.Since(start)
	_, err := c.reg.Update(id, func(r *registry.DroneRecord) {
		if res.Success {
			r.Status = registry.StatusConnected
			r.Latency = latency
		} else {
			r.Status = registry.StatusDisconnected
		}
	})
	if err != nil {
		return res
	}
	if res.Success {
		if res.Payload == nil {
			res.Payload = map[string]any{}
		}
		res.Payload["response_time"] = latency.Seconds()
	}
	return res
}

// Arm arms the drone's motors.
func (c *Controller) Arm(ctx context.Context, id string) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.Arm, nil)
}

// Disarm disarms the drone's motors.
func (c *Controller) Disarm(ctx context.Context, id string) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.Disarm, nil)
}

// Takeoff climbs to altitude metres.
func (c *Controller) Takeoff(ctx context.Context, id string, altitude float64) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.Takeoff, protocol.Params{"altitude": altitude})
}

// Land lands in place.
func (c *Controller) Land(ctx context.Context, id string) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.Land, nil)
}

// ReturnToLaunch flies home and lands.
func (c *Controller) ReturnToLaunch(ctx context.Context, id string) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.ReturnToLaunch, nil)
}

// GotoLocation flies to the given coordinates.
func (c *Controller) GotoLocation(ctx context.Context, id string, lat, lon, alt float64) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.GotoLocation, protocol.Params{
		"latitude":  lat,
		"longitude": lon,
		"altitude":  alt,
	})
}

// GetTelemetry asks the drone for its current telemetry.
func (c *Controller) GetTelemetry(ctx context.Context, id string) protocol.CommandResult {
	return c.Execute(ctx, id, dispatch.GetTelemetry, nil)
}
