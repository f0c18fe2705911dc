package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"droneops-fleet/internal/telemetry"

	"github.com/go-redis/redis/v8"
)

// redisStore is the subset of redis.UniversalClient used by RedisWriter.
type redisStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisWriter mirrors the latest status of every drone into Redis under
// "<prefix>:<drone_id>", expiring together with the registry record so
// other processes see the same live fleet.
type RedisWriter struct {
	client  redisStore
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisWriter connects to addr, either "host:port" or a redis:// URL.
func NewRedisWriter(addr, prefix string, ttl time.Duration) (*RedisWriter, error) {
	client, err := newRedisClient(addr)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "drone"
	}
	return &RedisWriter{client: client, prefix: prefix, ttl: ttl, timeout: 2 * time.Second}, nil
}

func newRedisClient(addr string) (redis.UniversalClient, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		opts, err = redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("cant parse redis url: %w", err)
		}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{opts.Addr},
		DB:       opts.DB,
		Username: opts.Username,
		Password: opts.Password,
	}), nil
}

// Write stores the row with the mirror TTL.
func (w *RedisWriter) Write(row telemetry.StatusRow) error {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("can't marshal status of %s: %w", row.DroneID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.client.Set(ctx, w.key(row.DroneID), b, w.ttl).Err(); err != nil {
		return fmt.Errorf("can't write status of %s to redis: %w", row.DroneID, err)
	}
	return nil
}

// Close releases the client.
func (w *RedisWriter) Close() error {
	return w.client.Close()
}

func (w *RedisWriter) key(id string) string {
	return w.prefix + ":" + id
}
