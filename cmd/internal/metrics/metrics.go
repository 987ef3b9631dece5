// Package metrics holds the Prometheus collectors exported on /metrics.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netreaper"

type Metrics struct {
	registry *prometheus.Registry

	authAttempts *prometheus.CounterVec
	commands     *prometheus.CounterVec
	scanJobs     *prometheus.CounterVec
	wsConns      *prometheus.GaugeVec
	logDrops     prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received on the execution channel by outcome.",
		}, []string{"outcome"}),
		scanJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_jobs_total",
			Help:      "Scan jobs by terminal status.",
		}, []string{"status"}),
		wsConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket connections by channel.",
		}, []string{"channel"}),
		logDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_dropped_total",
			Help:      "Log lines dropped because a subscriber queue was full.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authAttempts, m.commands, m.scanJobs, m.wsConns, m.logDrops,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AuthAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Command(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ScanJob(status string) {
	if m == nil {
		return
	}
	m.scanJobs.WithLabelValues(status).Inc()
}

// ConnOpened increments the gauge for channel and returns the matching
// decrement.
func (m *Metrics) ConnOpened(channel string) func() {
	if m == nil {
		return func() {}
	}
	g := m.wsConns.WithLabelValues(channel)
	g.Inc()
	return g.Dec
}

func (m *Metrics) LogDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.logDrops.Add(float64(n))
}
