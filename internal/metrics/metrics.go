// Package metrics holds the Prometheus collectors of the fleet controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters and gauges updated by discovery and the
// command path. Each instance owns its registry so tests can build many.
type Metrics struct {
	reg *prometheus.Registry

	Datagrams      *prometheus.CounterVec
	Announces      prometheus.Counter
	DecodeErrors   prometheus.Counter
	ReceiveErrors  prometheus.Counter
	SinkDropped    prometheus.Counter
	Relays         *prometheus.CounterVec
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec
	Drones         prometheus.GaugeFunc
	Listening      prometheus.Gauge
}

// New registers all collectors on a fresh registry. activeDrones is sampled
// on scrape; pass nil when there is no registry to report.
func New(activeDrones func() float64) *Metrics {
	if activeDrones == nil {
		activeDrones = func() float64 { return 0 }
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_discovery_datagrams_total",
			Help: "Datagrams received on the discovery socket, by message type.",
		}, []string{"type"}),
		Announces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_discovery_announces_total",
			Help: "Announces applied to the registry.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_discovery_decode_errors_total",
			Help: "Datagrams dropped because they could not be decoded.",
		}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_discovery_receive_errors_total",
			Help: "Socket errors seen by the discovery loop.",
		}),
		SinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_discovery_sink_dropped_total",
			Help: "Status rows dropped because the sink queue was full.",
		}),
		Relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_discovery_relays_total",
			Help: "Inbound commands relayed to drones, by outcome.",
		}, []string{"outcome"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_commands_total",
			Help: "Commands sent to drones, by command and outcome.",
		}, []string{"command", "outcome"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_command_duration_seconds",
			Help:    "Round trip time of commands sent to drones.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"command"}),
		Drones: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fleet_active_drones",
			Help: "Drones with a live registry record.",
		}, activeDrones),
		Listening: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_discovery_listening",
			Help: "1 while the discovery listener is running.",
		}),
	}
	m.reg.MustRegister(
		m.Datagrams, m.Announces, m.DecodeErrors, m.ReceiveErrors, m.SinkDropped,
		m.Relays, m.Commands, m.CommandLatency, m.Drones, m.Listening,
	)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Outcome labels a command result.
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
