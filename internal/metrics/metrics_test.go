package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCountersAndHandler(t *testing.T) {
	m := New(func() float64 { return 3 })
	m.Datagrams.WithLabelValues("drone_announce").Inc()
	m.Datagrams.WithLabelValues("drone_announce").Inc()
	m.Commands.WithLabelValues("arm", Outcome(false)).Inc()
	m.Listening.Set(1)

	body := scrape(t, m)
	assert.Contains(t, body, `fleet_discovery_datagrams_total{type="drone_announce"} 2`)
	assert.Contains(t, body, `fleet_commands_total{command="arm",outcome="failure"} 1`)
	assert.Contains(t, body, "fleet_active_drones 3")
	assert.Contains(t, body, "fleet_discovery_listening 1")
}

func TestIndependentInstances(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Announces.Inc()
	assert.Contains(t, scrape(t, a), "fleet_discovery_announces_total 1")
	assert.Contains(t, scrape(t, b), "fleet_discovery_announces_total 0")
}
