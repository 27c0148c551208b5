package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncAcquired("article")
	m.IncDenied("article", "locked")
	m.IncReleased("article", "explicit")
	m.IncConnections()
	m.DecConnections()
	m.IncEventsDropped("invalid")
	m.ObserveRequest("GET", "/api/v1/settings", "200", 0.01)
}

func TestPromLockMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("recordlock")
	m.IncAcquired("article")
	m.IncDenied("article", "locked")
	m.IncReleased("article", "disconnect")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "recordlock_locks_acquired_total", map[string]string{"resource": "article"}) {
		t.Fatalf("expected acquired metric")
	}
	if !hasMetric(families, "recordlock_locks_denied_total", map[string]string{"resource": "article", "reason": "locked"}) {
		t.Fatalf("expected denied metric")
	}
	if !hasMetric(families, "recordlock_locks_released_total", map[string]string{"resource": "article", "cause": "disconnect"}) {
		t.Fatalf("expected released metric")
	}
}

func TestChannelAndGatewayProm(t *testing.T) {
	reg := withTestRegistry(t)
	c := NewChannelProm("recordlock")
	c.IncConnections()
	c.IncEventsDropped("invalid")
	g := NewGatewayProm("recordlock")
	g.ObserveRequest("GET", "/api/v1/status/{resource}", "200", 0.002)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "recordlock_channel_connections", nil) {
		t.Fatalf("expected connections gauge")
	}
	if !hasMetric(families, "recordlock_channel_events_dropped_total", map[string]string{"reason": "invalid"}) {
		t.Fatalf("expected dropped counter")
	}
	if !hasMetric(families, "recordlock_http_requests_total", map[string]string{"method": "GET", "route": "/api/v1/status/{resource}", "status": "200"}) {
		t.Fatalf("expected request counter")
	}
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	got := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
