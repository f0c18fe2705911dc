package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"droneops-fleet/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	key   string
	value []byte
	ttl   time.Duration
}

type fakeRedis struct {
	calls  []setCall
	err    error
	closed bool
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.calls = append(f.calls, setCall{key: key, value: value.([]byte), ttl: ttl})
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisWriterSetsKeyWithTTL(t *testing.T) {
	f := &fakeRedis{}
	w := &RedisWriter{client: f, prefix: "fleet", ttl: 30 * time.Second, timeout: time.Second}

	row := telemetry.StatusRow{DroneID: "drone-1", BatteryVoltage: 12.4, Host: "10.0.0.5"}
	require.NoError(t, w.Write(row))
	require.Len(t, f.calls, 1)
	assert.Equal(t, "fleet:drone-1", f.calls[0].key)
	assert.Equal(t, 30*time.Second, f.calls[0].ttl)

	var got telemetry.StatusRow
	require.NoError(t, json.Unmarshal(f.calls[0].value, &got))
	assert.Equal(t, row.BatteryVoltage, got.BatteryVoltage)
	assert.Equal(t, row.Host, got.Host)

	require.NoError(t, w.Close())
	assert.True(t, f.closed)
}

func TestRedisWriterError(t *testing.T) {
	f := &fakeRedis{err: errors.New("connection refused")}
	w := &RedisWriter{client: f, prefix: "fleet", ttl: time.Second, timeout: time.Second}
	err := w.Write(telemetry.StatusRow{DroneID: "drone-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drone-1")
}

func TestNewRedisClientURL(t *testing.T) {
	c, err := newRedisClient("redis://localhost:6380/2")
	require.NoError(t, err)
	defer c.Close()

	_, err = newRedisClient("redis://%zz")
	assert.Error(t, err)
}
