package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LockMetrics counts coordinator lock-state transitions.
type LockMetrics interface {
	IncAcquired(resource string)
	IncDenied(resource, reason string)
	IncReleased(resource, cause string)
}

// ChannelMetrics tracks realtime connections and dropped events.
type ChannelMetrics interface {
	IncConnections()
	DecConnections()
	IncEventsDropped(reason string)
}

// GatewayMetrics captures request metrics for the HTTP API.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncAcquired(string)                            {}
func (Noop) IncDenied(string, string)                      {}
func (Noop) IncReleased(string, string)                    {}
func (Noop) IncConnections()                               {}
func (Noop) DecConnections()                               {}
func (Noop) IncEventsDropped(string)                       {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements LockMetrics backed by Prometheus counters.
type Prom struct {
	acquired *prometheus.CounterVec
	denied   *prometheus.CounterVec
	released *prometheus.CounterVec
	once     sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_acquired_total",
			Help:      "Locks acquired by resource",
		}, []string{"resource"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_denied_total",
			Help:      "Lock acquisitions denied by resource and reason",
		}, []string{"resource", "reason"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_released_total",
			Help:      "Locks released by resource and cause",
		}, []string{"resource", "cause"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.acquired, p.denied, p.released)
	})
	return p
}

func (p *Prom) IncAcquired(resource string) {
	p.acquired.WithLabelValues(resource).Inc()
}

func (p *Prom) IncDenied(resource, reason string) {
	p.denied.WithLabelValues(resource, reason).Inc()
}

func (p *Prom) IncReleased(resource, cause string) {
	p.released.WithLabelValues(resource, cause).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Channel metrics ---

type channelProm struct {
	connections prometheus.Gauge
	dropped     *prometheus.CounterVec
	once        sync.Once
}

// NewChannelProm constructs ChannelMetrics backed by Prometheus.
func NewChannelProm(namespace string) ChannelMetrics {
	c := &channelProm{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_connections",
			Help:      "Currently open realtime connections",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_events_dropped_total",
			Help:      "Inbound events dropped by reason",
		}, []string{"reason"}),
	}
	c.once.Do(func() {
		prometheus.MustRegister(c.connections, c.dropped)
	})
	return c
}

func (c *channelProm) IncConnections()               { c.connections.Inc() }
func (c *channelProm) DecConnections()               { c.connections.Dec() }
func (c *channelProm) IncEventsDropped(reason string) { c.dropped.WithLabelValues(reason).Inc() }

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
