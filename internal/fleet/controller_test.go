package fleet

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"droneops-fleet/internal/agent"
	"droneops-fleet/internal/config"
	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/protocol"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.FleetConfig {
	cfg := config.Default()
	cfg.DiscoveryPort = 0
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.RequestTimeout = 300 * time.Millisecond
	cfg.PingTimeout = 200 * time.Millisecond
	return cfg
}

func newController(t *testing.T, cfg *config.FleetConfig, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

// startAgent runs a simulated drone announcing to c.
func startAgent(t *testing.T, c *Controller, id string) *agent.Agent {
	t.Helper()
	a := agent.New(agent.Config{
		ID:               id,
		Controller:       fmt.Sprintf("127.0.0.1:%d", c.Port()),
		AnnounceInterval: 100 * time.Millisecond,
		TickInterval:     time.Hour,
	}, protocol.JSON, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Listen(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, err := c.Drone(id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return a
}

// silentDrone registers a drone whose port swallows everything.
func silentDrone(t *testing.T, c *Controller, id string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c.reg.Upsert(id, func(r *registry.DroneRecord) {
		r.Addr = registry.Addr{Host: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}
		r.Status = registry.StatusConnected
	})
}

func TestSendCommandUnknownDrone(t *testing.T) {
	c := newController(t, testConfig())
	start := time.Now()
	res := c.SendCommand(context.Background(), "missing-id", "arm", protocol.Params{})
	assert.Equal(t, protocol.CommandResult{Success: false, Error: "drone not found"}, res)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.Equal(t, "drone not found", c.Arm(context.Background(), "missing-id").Error)
}

func TestSendCommandTimeout(t *testing.T) {
	c := newController(t, testConfig())
	silentDrone(t, c, "drone-1")

	start := time.Now()
	res := c.Takeoff(context.Background(), "drone-1", 15.0)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "timeout: drone unreachable"), res.Error)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestInvalidParamsNeverReachTheDrone(t *testing.T) {
	c := newController(t, testConfig())
	silentDrone(t, c, "drone-1")

	start := time.Now()
	res := c.Execute(context.Background(), "drone-1", "goto_location", protocol.Params{"latitude": 1.0})
	assert.Equal(t, protocol.Failure("invalid parameter longitude"), res)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	res = c.Execute(context.Background(), "drone-1", "self_destruct", nil)
	assert.Equal(t, protocol.Failure("unknown command"), res)
}

func TestStaleReplyIsIgnored(t *testing.T) {
	c := newController(t, testConfig())
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	c.reg.Upsert("drone-1", func(r *registry.DroneRecord) {
		r.Addr = registry.Addr{Host: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}
	})

	go func() {
		buf := make([]byte, 4096)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := protocol.JSON.Decode(buf[:n])
		if err != nil {
			return
		}
		cmd := msg.(*protocol.Command)
		stale, _ := protocol.JSON.Encode(&protocol.CommandResponse{
			DroneID: "drone-1", Command: cmd.Command, RequestID: "old",
			Result: &protocol.CommandResult{Success: false, Error: "stale"},
		})
		fresh, _ := protocol.JSON.Encode(&protocol.CommandResponse{
			DroneID: "drone-1", Command: cmd.Command, RequestID: cmd.RequestID,
			Result: &protocol.CommandResult{Success: true},
		})
		conn.WriteToUDP(stale, from)
		conn.WriteToUDP(fresh, from)
	}()

	res := c.Land(context.Background(), "drone-1")
	assert.True(t, res.Success, res.Error)
}

func TestEndToEndWithSimulatedDrone(t *testing.T) {
	c := newController(t, testConfig())
	require.True(t, c.Start(context.Background()))
	assert.NotZero(t, c.Port())
	startAgent(t, c, "drone-1")
	ctx := context.Background()

	drones := c.ListDrones()
	require.Contains(t, drones, "drone-1")
	rec := drones["drone-1"]
	assert.Equal(t, "127.0.0.1", rec.Addr.Host)
	assert.Equal(t, registry.StatusConnected, rec.Status)
	assert.InDelta(t, 12.6, rec.BatteryVoltage, 0.01)

	assert.Equal(t, protocol.Failure("not armed"), c.Takeoff(ctx, "drone-1", 15))
	require.True(t, c.Arm(ctx, "drone-1").Success)
	require.True(t, c.Takeoff(ctx, "drone-1", 15).Success)
	require.True(t, c.GotoLocation(ctx, "drone-1", 48.2, 16.4, 60).Success)
	require.True(t, c.ReturnToLaunch(ctx, "drone-1").Success)
	require.True(t, c.Land(ctx, "drone-1").Success)
	assert.True(t, c.Disarm(ctx, "drone-1").Success)

	tel := c.GetTelemetry(ctx, "drone-1")
	require.True(t, tel.Success)
	assert.InDelta(t, 12.6, tel.Telemetry().BatteryVoltage, 0.01)

	ping := c.Ping(ctx, "drone-1")
	require.True(t, ping.Success)
	assert.Contains(t, ping.Payload, "response_time")
	rec, err := c.Drone("drone-1")
	require.NoError(t, err)
	assert.Positive(t, rec.Latency)

	st := c.SystemStatus()
	assert.True(t, st.ServerRunning)
	assert.Equal(t, c.Port(), st.DiscoveryPort)
	assert.Equal(t, 1, st.ActiveDrones)
	assert.Equal(t, 1, st.ConnectedDrones)

	c.Stop()
	c.Stop()
	assert.False(t, c.SystemStatus().ServerRunning)
}

func TestRelayedCommand(t *testing.T) {
	cfg := testConfig()
	cfg.RelayCommands = true
	c := newController(t, cfg)
	require.True(t, c.Start(context.Background()))
	startAgent(t, c, "drone-7")

	b, err := protocol.JSON.Encode(&protocol.Command{
		Command: "takeoff", TargetDrone: "drone-7", Params: protocol.Params{}, RequestID: "ui-1",
	})
	require.NoError(t, err)
	addr, err := transport.ResolveAddr("127.0.0.1", c.Port())
	require.NoError(t, err)
	reply, err := transport.Exchange(context.Background(), addr, b, 2*time.Second)
	require.NoError(t, err)

	msg, err := protocol.JSON.Decode(reply)
	require.NoError(t, err)
	resp := msg.(*protocol.CommandResponse)
	assert.Equal(t, "ui-1", resp.RequestID)
	assert.Equal(t, protocol.Failure("not armed"), resp.Outcome())
}

func TestPingFailureMarksDisconnected(t *testing.T) {
	c := newController(t, testConfig())
	silentDrone(t, c, "drone-1")

	res := c.Ping(context.Background(), "drone-1")
	assert.False(t, res.Success)
	rec, err := c.Drone("drone-1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusDisconnected, rec.Status)
	assert.Equal(t, 0, c.SystemStatus().ConnectedDrones)
}

func TestRegistryTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	c := newController(t, testConfig(), WithClock(clock.Now))
	c.reg.Upsert("drone-1", func(r *registry.DroneRecord) { r.BatteryVoltage = 12.4 })

	drones := c.ListDrones()
	require.Len(t, drones, 1)
	assert.Equal(t, 12.4, drones["drone-1"].BatteryVoltage)

	clock.Advance(31 * time.Second)
	assert.Empty(t, c.ListDrones())
	assert.Equal(t, "drone not found", c.Arm(context.Background(), "drone-1").Error)
}

func TestLastAnnounceWins(t *testing.T) {
	c := newController(t, testConfig())
	require.True(t, c.Start(context.Background()))
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: c.Port()})
	require.NoError(t, err)
	defer conn.Close()

	for _, v := range []float64{12.4, 11.9} {
		b, err := protocol.JSON.Encode(&protocol.Announce{DroneID: "drone-1", BatteryVoltage: v})
		require.NoError(t, err)
		_, err = conn.Write(b)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		rec, err := c.Drone("drone-1")
		return err == nil && rec.BatteryVoltage == 11.9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	c := newController(t, testConfig())
	c.reg.Upsert("drone-1", nil)
	assert.True(t, c.Disconnect("drone-1"))
	assert.False(t, c.Disconnect("drone-1"))
	assert.Empty(t, c.ListDrones())
}

func TestStartFailsOnOccupiedPort(t *testing.T) {
	occupant, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	defer occupant.Close()

	cfg := testConfig()
	cfg.DiscoveryPort = occupant.LocalAddr().(*net.UDPAddr).Port
	c := newController(t, cfg)
	assert.False(t, c.Start(context.Background()))
	assert.False(t, c.SystemStatus().ServerRunning)
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	cfg := testConfig()
	cfg.Encoding = "xml"
	_, err := New(cfg)
	assert.Error(t, err)
}
