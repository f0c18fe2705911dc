// Package registry keeps the last known state of every field unit heard
// on the discovery socket.
package registry

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultTTL is the liveness window after which a silent drone is evicted.
const DefaultTTL = 30 * time.Second

// ErrNotFound is returned for identifiers with no live record.
var ErrNotFound = errors.New("drone not found")

// Status values reported for a drone.
const (
	StatusConnected    = "connected"
	StatusUnknown      = "unknown"
	StatusDisconnected = "disconnected"
)

// Addr is where a drone accepts commands.
type Addr struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// DroneRecord is the registry view of one field unit.
type DroneRecord struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Addr            Addr          `json:"address"`
	Status          string        `json:"status"`
	BatteryVoltage  float64       `json:"battery_voltage"`
	GPSFix          bool          `json:"gps_fix"`
	FlightMode      string        `json:"flight_mode"`
	Armed           bool          `json:"armed"`
	SignalStrength  int           `json:"signal_strength"`
	FirmwareVersion string        `json:"firmware_version"`
	Latency         time.Duration `json:"latency,omitempty"`
	LastSeen        time.Time     `json:"last_seen"`
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is a lock-protected map of drone records with lazy TTL eviction.
// Expired records are dropped when the registry is read, there is no
// background sweeper.
type Registry struct {
	mu      sync.Mutex
	records map[string]*DroneRecord
	ttl     time.Duration
	now     func() time.Time
}

// New creates a registry. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		records: make(map[string]*DroneRecord),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// TTL returns the liveness window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Upsert merges into the record for id, creating it when missing, and
// refreshes LastSeen. The updated record is returned.
func (r *Registry) Upsert(id string, apply func(*DroneRecord)) DroneRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	rec, ok := r.records[id]
	if !ok || r.expired(rec, now) {
		rec = &DroneRecord{ID: id, Status: StatusUnknown}
		r.records[id] = rec
	}
	if apply != nil {
		apply(rec)
	}
	rec.ID = id
	rec.LastSeen = now
	return *rec
}

// Update changes a live record without refreshing LastSeen.
func (r *Registry) Update(id string, apply func(*DroneRecord)) (DroneRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.live(id)
	if err != nil {
		return DroneRecord{}, err
	}
	seen := rec.LastSeen
	apply(rec)
	rec.ID = id
	rec.LastSeen = seen
	return *rec, nil
}

// Get returns the record for id or ErrNotFound.
func (r *Registry) Get(id string) (DroneRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.live(id)
	if err != nil {
		return DroneRecord{}, err
	}
	return *rec, nil
}

// Snapshot evicts stale records and returns a copy of the rest.
func (r *Registry) Snapshot() map[string]DroneRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict()
	out := make(map[string]DroneRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = *rec
	}
	return out
}

// Remove drops the record for id and reports whether it was live.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.live(id)
	delete(r.records, id)
	return err == nil
}

// Len is the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict()
	return len(r.records)
}

// Count is the number of live records with the given status.
func (r *Registry) Count(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict()
	n := 0
	for _, rec := range r.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// live must be called with mu held.
func (r *Registry) live(id string) (*DroneRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.expired(rec, r.now()) {
		delete(r.records, id)
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *Registry) evict() {
	now := r.now()
	for id, rec := range r.records {
		if r.expired(rec, now) {
			delete(r.records, id)
		}
	}
}

func (r *Registry) expired(rec *DroneRecord, now time.Time) bool {
	return now.Sub(rec.LastSeen) > r.ttl
}
