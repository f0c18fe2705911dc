// Package discovery runs the background loop that owns the discovery socket:
// it ingests drone announces into the registry and, when enabled, relays
// commands sent by management clients.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"droneops-fleet/internal/metrics"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/sink"
	"droneops-fleet/internal/telemetry"
	"droneops-fleet/internal/transport"
)

// State of the listener.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Relay executes a command received on the discovery socket. A nil Relay
// disables the relay path and such commands are dropped.
type Relay func(ctx context.Context, cmd *protocol.Command) protocol.CommandResult

// Config holds the socket and loop settings.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	ErrorBackoff time.Duration
	// SinkQueue is the number of status rows buffered for the sink.
	SinkQueue int
	// ControllerID is stamped on every status row.
	ControllerID string
}

// Option customises a Listener.
type Option func(*Listener)

// WithSink forwards a status row for every applied announce.
func WithSink(w sink.StatusWriter) Option {
	return func(l *Listener) { l.sink = w }
}

// WithRelay enables the command relay path.
func WithRelay(r Relay) Option {
	return func(l *Listener) { l.relay = r }
}

// WithMetrics records loop counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// conn is the part of *transport.Listener the loop uses.
type conn interface {
	Port() int
	Receive(buf []byte) (int, *net.UDPAddr, error)
	SendTo(addr *net.UDPAddr, payload []byte) error
	Close() error
}

func listenUDP(ctx context.Context, port int, readTimeout time.Duration) (conn, error) {
	sock, err := transport.Listen(ctx, port, readTimeout)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// Listener is the discovery state machine: stopped -> running -> stopped.
type Listener struct {
	cfg     Config
	reg     *registry.Registry
	sink    sink.StatusWriter
	relay   Relay
	metrics *metrics.Metrics
	log     *slog.Logger
	listen  func(ctx context.Context, port int, readTimeout time.Duration) (conn, error)

	mu     sync.Mutex
	state  State
	sock   conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped listener feeding reg.
func New(cfg Config, reg *registry.Registry, opts ...Option) *Listener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.SinkQueue <= 0 {
		cfg.SinkQueue = 256
	}
	l := &Listener{
		cfg:    cfg,
		reg:    reg,
		sink:   sink.Nop{},
		log:    slog.Default(),
		listen: listenUDP,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "discovery")
	return l
}

// Start binds the discovery socket and spawns the receive loop. It returns
// the *transport.BindError when the port is unavailable. Starting a running
// listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Running {
		return nil
	}
	sock, err := l.listen(ctx, l.cfg.Port, l.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	q := newSinkQueue(l.sink, l.cfg.SinkQueue, l.metrics, l.log)
	loopCtx, cancel := context.WithCancel(ctx)
	l.sock = sock
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = Running
	if l.metrics != nil {
		l.metrics.Listening.Set(1)
	}
	l.log.Info("discovery listening", "port", sock.Port())
	go l.run(loopCtx, sock, q, l.done)
	return nil
}

// Stop cancels the loop, closes the socket and waits for the loop to exit
// and for queued status rows to reach the sink.
// It is safe to call more than once. Cancelling the context given to Start
// has the same effect.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.state == Stopped {
		l.mu.Unlock()
		return
	}
	cancel, sock, done := l.cancel, l.sock, l.done
	l.state = Stopped
	l.sock = nil
	l.mu.Unlock()

	cancel()
	if err := sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.Warn("close discovery socket", "err", err)
	}
	<-done
}

// State reports whether the loop is running.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Running is State() == Running.
func (l *Listener) Running() bool { return l.State() == Running }

// Port returns the bound port, or the configured one while stopped.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock != nil {
		return l.sock.Port()
	}
	return l.cfg.Port
}

func (l *Listener) run(ctx context.Context, sock conn, q *sinkQueue, done chan struct{}) {
	defer func() {
		sock.Close()
		q.close()
		l.mu.Lock()
		if l.done == done {
			l.state = Stopped
			l.sock = nil
		}
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.Listening.Set(0)
		}
		l.log.Info("discovery stopped")
		close(done)
	}()
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, addr, err := sock.Receive(buf)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			return
		default:
			l.log.Error("discovery receive failed", "err", err)
			if l.metrics != nil {
				l.metrics.ReceiveErrors.Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.ErrorBackoff):
			}
			continue
		}
		l.handle(ctx, sock, q, buf[:n], addr)
	}
}

func (l *Listener) handle(ctx context.Context, sock conn, q *sinkQueue, b []byte, from *net.UDPAddr) {
	msg, codec, err := protocol.DecodeAny(b)
	if err != nil {
		l.log.Warn("dropping datagram", "from", from.String(), "err", err)
		if l.metrics != nil {
			l.metrics.DecodeErrors.Inc()
		}
		return
	}
	if l.metrics != nil {
		l.metrics.Datagrams.WithLabelValues(string(msg.Kind())).Inc()
	}

	switch m := msg.(type) {
	case *protocol.Announce:
		l.applyAnnounce(q, m, from)
	case *protocol.Command:
		l.relayCommand(ctx, sock, codec, m, from)
	default:
		l.log.Debug("ignoring unsolicited message", "type", msg.Kind(), "from", from.String())
	}
}

// applyAnnounce records the announce and queues a status row. The address
// comes from the socket, never from the payload.
func (l *Listener) applyAnnounce(q *sinkQueue, a *protocol.Announce, from *net.UDPAddr) {
	host := from.IP.String()
	port := a.Port
	if port == 0 {
		port = protocol.DefaultDronePort
	}
	rec := l.reg.Upsert(a.DroneID, func(r *registry.DroneRecord) {
		r.Name = orDefault(a.Name, a.DroneID)
		r.Addr = registry.Addr{Host: host, Port: port}
		r.Status = orDefault(a.PixhawkStatus, registry.StatusUnknown)
		r.BatteryVoltage = a.BatteryVoltage
		r.GPSFix = a.GPSFix
		r.FlightMode = orDefault(a.FlightMode, "unknown")
		r.Armed = a.Armed
		r.SignalStrength = a.SignalStrength
		r.FirmwareVersion = orDefault(a.FirmwareVersion, "unknown")
	})
	if l.metrics != nil {
		l.metrics.Announces.Inc()
	}
	l.log.Debug("drone announced", "drone_id", rec.ID, "addr", rec.Addr.String(), "status", rec.Status)

	row := telemetry.FromAnnounce(l.cfg.ControllerID, host, a, rec.LastSeen)
	row.Name, row.Port, row.Status = rec.Name, port, rec.Status
	row.FlightMode, row.FirmwareVersion = rec.FlightMode, rec.FirmwareVersion
	q.offer(row)
}

func (l *Listener) relayCommand(ctx context.Context, sock conn, codec protocol.Codec, cmd *protocol.Command, from *net.UDPAddr) {
	if l.relay == nil {
		l.log.Debug("relay disabled, dropping command", "command", cmd.Command, "from", from.String())
		return
	}
	res := l.relay(ctx, cmd)
	if l.metrics != nil {
		l.metrics.Relays.WithLabelValues(metrics.Outcome(res.Success)).Inc()
	}
	resp := &protocol.CommandResponse{
		DroneID:   cmd.TargetDrone,
		Command:   cmd.Command,
		Result:    &res,
		Timestamp: protocol.Now(),
		RequestID: cmd.RequestID,
	}
	b, err := codec.Encode(resp)
	if err != nil {
		l.log.Error("encode command response", "err", err)
		return
	}
	if err := sock.SendTo(from, b); err != nil {
		l.log.Error("failed to send command response", "to", from.String(), "err", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
