// Package metrics exposes Prometheus instrumentation for the directory
// server. Every method on a nil *Tracker is a no-op so callers can run
// without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"p2pdir/registry"
)

// Tracker holds the directory server's collectors.
type Tracker struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RequestsAbandoned prometheus.Counter
	AuditFailures     prometheus.Counter
	AuditDropped      prometheus.Counter

	reg prometheus.Registerer
}

// New creates the collectors and registers them with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2pdir_requests_total",
				Help: "Directory requests by command and result code",
			},
			[]string{"command", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p2pdir_request_duration_seconds",
				Help:    "Directory request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2pdir_connections_active",
			Help: "Connections currently being served",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pdir_connections_total",
			Help: "Connections accepted since start",
		}),
		RequestsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pdir_requests_abandoned_total",
			Help: "Requests dropped because a line was empty or missing",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pdir_audit_failures_total",
			Help: "Audit entries the collaborator did not accept",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pdir_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full",
		}),
		reg: reg,
	}

	reg.MustRegister(
		t.RequestsTotal,
		t.RequestDuration,
		t.ConnectionsActive,
		t.ConnectionsTotal,
		t.RequestsAbandoned,
		t.AuditFailures,
		t.AuditDropped,
	)
	return t
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// WatchRegistry exports the directory's population as gauges read at
// scrape time.
func (t *Tracker) WatchRegistry(r *registry.Registry) {
	if t == nil || r == nil {
		return
	}
	t.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p2pdir_registry_users",
			Help: "Registered users",
		}, func() float64 { return float64(r.Stats().Users) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p2pdir_registry_connected_users",
			Help: "Users currently connected",
		}, func() float64 { return float64(r.Stats().ConnectedUsers) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "p2pdir_registry_files",
			Help: "Published files",
		}, func() float64 { return float64(r.Stats().Files) }),
	)
}

// RecordRequest counts a completed request.
func (t *Tracker) RecordRequest(command string, code int, seconds float64) {
	if t == nil {
		return
	}
	t.RequestsTotal.WithLabelValues(command, codeLabel(code)).Inc()
	t.RequestDuration.WithLabelValues(command).Observe(seconds)
}

func (t *Tracker) ConnectionOpened() {
	if t == nil {
		return
	}
	t.ConnectionsTotal.Inc()
	t.ConnectionsActive.Inc()
}

func (t *Tracker) ConnectionClosed() {
	if t == nil {
		return
	}
	t.ConnectionsActive.Dec()
}

func (t *Tracker) RecordAbandoned() {
	if t == nil {
		return
	}
	t.RequestsAbandoned.Inc()
}

func (t *Tracker) RecordAuditFailure() {
	if t == nil {
		return
	}
	t.AuditFailures.Inc()
}

func (t *Tracker) RecordAuditDropped() {
	if t == nil {
		return
	}
	t.AuditDropped.Inc()
}

// codeLabel keeps the label set small: result codes are 0..4.
func codeLabel(code int) string {
	if code >= 0 && code <= 9 {
		return string(rune('0' + code))
	}
	return "other"
}
