package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/metrics"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
	"droneops-fleet/internal/transport"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu   sync.Mutex
	rows []telemetry.StatusRow
}

func (s *memSink) Write(r telemetry.StatusRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *memSink) Rows() []telemetry.StatusRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.StatusRow(nil), s.rows...)
}

// gatedSink blocks every write until release is closed.
type gatedSink struct {
	memSink
	release chan struct{}
}

func (s *gatedSink) Write(r telemetry.StatusRow) error {
	<-s.release
	return s.memSink.Write(r)
}

// flakyConn fails the first failures receives, then delivers payload once
// and times out until closed.
type flakyConn struct {
	mu       sync.Mutex
	failures int
	payload  []byte
	closed   bool
}

func (c *flakyConn) Port() int { return 0 }

func (c *flakyConn) Receive(buf []byte) (int, *net.UDPAddr, error) {
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return 0, nil, transport.ErrClosed
	case c.failures > 0:
		c.failures--
		return 0, nil, errors.New("network is unreachable")
	case c.payload != nil:
		n := copy(buf, c.payload)
		c.payload = nil
		return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 40000}, nil
	default:
		return 0, nil, transport.ErrTimeout
	}
}

func (c *flakyConn) SendTo(*net.UDPAddr, []byte) error { return nil }

func (c *flakyConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func testConfig() Config {
	return Config{ReadTimeout: 50 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond, ControllerID: "test"}
}

func startListener(t *testing.T, reg *registry.Registry, opts ...Option) *Listener {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	l := New(testConfig(), reg, opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

// dial opens a client socket on loopback aimed at the listener.
func dial(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *net.UDPConn, codec protocol.Codec, m protocol.Message) {
	t.Helper()
	b, err := codec.Encode(m)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func TestAnnounceUpdatesRegistryAndSink(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	s := &memSink{}
	m := metrics.New(nil)
	l := startListener(t, reg, WithSink(s), WithMetrics(m))
	assert.True(t, l.Running())
	assert.NotZero(t, l.Port())

	conn := dial(t, l)
	send(t, conn, protocol.JSON, &protocol.Announce{DroneID: "drone-1", BatteryVoltage: 12.4, PixhawkStatus: "connected"})

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec, err := reg.Get("drone-1")
	require.NoError(t, err)
	assert.Equal(t, 12.4, rec.BatteryVoltage)
	assert.Equal(t, "127.0.0.1", rec.Addr.Host)
	assert.Equal(t, protocol.DefaultDronePort, rec.Addr.Port)
	assert.Equal(t, "drone-1", rec.Name)
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.Equal(t, "unknown", rec.FlightMode)

	require.Eventually(t, func() bool { return len(s.Rows()) == 1 }, time.Second, 10*time.Millisecond)
	row := s.Rows()[0]
	assert.Equal(t, "test", row.ControllerID)
	assert.Equal(t, "127.0.0.1", row.Host)
	assert.Equal(t, protocol.DefaultDronePort, row.Port)
}

func TestAnnounceCBORAndLegacyType(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	l := startListener(t, reg)
	conn := dial(t, l)

	send(t, conn, protocol.CBOR, &protocol.Announce{DroneID: "cbor-1", Port: 15000})
	_, err := conn.Write([]byte(`{"type":"drone_announcement","drone_id":"legacy-1"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	rec, err := reg.Get("cbor-1")
	require.NoError(t, err)
	assert.Equal(t, 15000, rec.Addr.Port)
	assert.Equal(t, registry.StatusUnknown, rec.Status)
}

func TestMalformedDatagramsAreDropped(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	m := metrics.New(nil)
	l := startListener(t, reg, WithMetrics(m))
	conn := dial(t, l)

	for _, p := range []string{`not json`, `{"type":"drone_announce"}`, `{"type":"mystery"}`} {
		_, err := conn.Write([]byte(p))
		require.NoError(t, err)
	}
	send(t, conn, protocol.JSON, &protocol.Announce{DroneID: "after"})

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err := reg.Get("after")
	assert.NoError(t, err)
	assert.True(t, l.Running())
}

func TestRelayRepliesOnBoundSocket(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	var got atomic.Pointer[protocol.Command]
	relay := func(_ context.Context, cmd *protocol.Command) protocol.CommandResult {
		got.Store(cmd)
		return protocol.OK(map[string]any{"echo": cmd.Command})
	}
	l := startListener(t, reg, WithRelay(relay))
	conn := dial(t, l)

	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			send(t, conn, codec, &protocol.Command{Command: "arm", TargetDrone: "drone-9", Params: protocol.Params{}, RequestID: "r-1"})

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			buf := make([]byte, 4096)
			n, err := conn.Read(buf)
			require.NoError(t, err)

			assert.Equal(t, codec.Name(), protocol.Sniff(buf[:n]).Name())
			msg, err := codec.Decode(buf[:n])
			require.NoError(t, err)
			resp, ok := msg.(*protocol.CommandResponse)
			require.True(t, ok)
			assert.Equal(t, "drone-9", resp.DroneID)
			assert.Equal(t, "arm", resp.Command)
			assert.Equal(t, "r-1", resp.RequestID)
			assert.True(t, resp.Outcome().Success)
			assert.Equal(t, "arm", resp.Outcome().Payload["echo"])
			assert.False(t, resp.Timestamp.IsZero())
			require.NotNil(t, got.Load())
			assert.Equal(t, "drone-9", got.Load().TargetDrone)
		})
	}
}

func TestRelayDisabledDropsCommands(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	l := startListener(t, reg)
	conn := dial(t, l)

	send(t, conn, protocol.JSON, &protocol.Command{Command: "arm", TargetDrone: "drone-1"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := conn.Read(make([]byte, 1024))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no reply, got %v", err)
}

func TestStopIsIdempotentAndRestartable(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	l := New(testConfig(), reg, WithLogger(logging.Discard()))
	assert.Equal(t, Stopped, l.State())
	l.Stop()

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, "running", l.State().String())

	start := time.Now()
	l.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, l.Running())
	l.Stop()

	require.NoError(t, l.Start(context.Background()))
	l.Stop()
}

func TestContextCancelStopsLoop(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	l := New(testConfig(), reg, WithLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !l.Running() }, time.Second, 10*time.Millisecond)
	l.Stop()
}

func TestStartOnOccupiedPort(t *testing.T) {
	occupant, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	defer occupant.Close()

	cfg := testConfig()
	cfg.Port = occupant.LocalAddr().(*net.UDPAddr).Port
	l := New(cfg, registry.New(0), WithLogger(logging.Discard()))
	err = l.Start(context.Background())

	var be *transport.BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, cfg.Port, be.Port)
	assert.False(t, l.Running())
	assert.Equal(t, cfg.Port, l.Port())
}

func TestSlowSinkDoesNotDelayIngestion(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	s := &gatedSink{release: make(chan struct{})}
	l := startListener(t, reg, WithSink(s))
	defer close(s.release)
	conn := dial(t, l)

	start := time.Now()
	for _, id := range []string{"d0", "d1", "d2", "d3", "d4"} {
		send(t, conn, protocol.JSON, &protocol.Announce{DroneID: id})
	}
	require.Eventually(t, func() bool { return reg.Len() == 5 }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, s.Rows())
}

func TestFullSinkQueueDropsRows(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	s := &gatedSink{release: make(chan struct{})}
	m := metrics.New(nil)
	cfg := testConfig()
	cfg.SinkQueue = 2
	l := New(cfg, reg, WithLogger(logging.Discard()), WithSink(s), WithMetrics(m))
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	conn := dial(t, l)

	for i := 0; i < 10; i++ {
		send(t, conn, protocol.JSON, &protocol.Announce{DroneID: fmt.Sprintf("d%d", i)})
	}
	require.Eventually(t, func() bool { return reg.Len() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, testutil.ToFloat64(m.SinkDropped))

	close(s.release)
	l.Stop()
	assert.Equal(t, 10, len(s.Rows())+int(testutil.ToFloat64(m.SinkDropped)))
}

func TestStopFlushesQueuedRows(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	s := &memSink{}
	l := startListener(t, reg, WithSink(s))
	conn := dial(t, l)

	send(t, conn, protocol.JSON, &protocol.Announce{DroneID: "d0"})
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	l.Stop()
	require.Len(t, s.Rows(), 1)
	assert.Equal(t, "d0", s.Rows()[0].DroneID)
}

func TestReceiveErrorsBackOffAndContinue(t *testing.T) {
	reg := registry.New(registry.DefaultTTL)
	m := metrics.New(nil)
	payload, err := protocol.JSON.Encode(&protocol.Announce{DroneID: "late"})
	require.NoError(t, err)
	fc := &flakyConn{failures: 3, payload: payload}

	l := New(testConfig(), reg, WithLogger(logging.Discard()), WithMetrics(m))
	l.listen = func(context.Context, int, time.Duration) (conn, error) { return fc, nil }
	start := time.Now()
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	// three failures, one backoff each
	assert.GreaterOrEqual(t, time.Since(start), 3*testConfig().ErrorBackoff)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReceiveErrors))
	assert.True(t, l.Running())

	rec, err := reg.Get("late")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", rec.Addr.Host)

	l.Stop()
	assert.False(t, l.Running())
}
