package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	Connections     prometheus.Gauge
	MessagesSent    *prometheus.CounterVec
	RealtimeEvents  *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages appended, by transport",
		}, []string{"transport"}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound realtime events, by name",
		}, []string{"event"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "app_command_duration_seconds",
			Help:    "Bus call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"command", "kind", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests, by route and status",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.Connections,
		m.MessagesSent,
		m.RealtimeEvents,
		m.CommandDuration,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall satisfies the bus instrumentation hook.
func (m *Metrics) ObserveCall(kind, key string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CommandDuration.WithLabelValues(key, kind, outcome).Observe(took.Seconds())
}

func (m *Metrics) MessageSent(transport string) {
	m.MessagesSent.WithLabelValues(transport).Inc()
}

func (m *Metrics) EventReceived(name string) {
	m.RealtimeEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) ConnectionOpened() { m.Connections.Inc() }

func (m *Metrics) ConnectionClosed() { m.Connections.Dec() }
