// Package metrics exposes Prometheus collectors for sessions, frames and dispatched calls.
//
// A nil *Metrics is valid and records nothing, so components take one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "turbo").
	Namespace string

	// Subsystem is the metrics subsystem (default: "rpc").
	Subsystem string

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithBuckets sets the dispatch duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "turbo",
		Subsystem: "rpc",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	framesIn         *prometheus.CounterVec
	framesOut        prometheus.Counter
	bytesIn          prometheus.Counter
	bytesOut         prometheus.Counter
	decodeErrors     prometheus.Counter
	droppedResponses prometheus.Counter
	unsubscribes     prometheus.Counter
	inflight         prometheus.Gauge
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	f := promauto.With(cfg.Registry)
	ns, sub := cfg.Namespace, cfg.Subsystem

	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sessions_active",
			Help: "Number of open connection sessions.",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sessions_total",
			Help: "Total number of connection sessions opened.",
		}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "frames_received_total",
			Help: "Inbound frames by kind (dispatch, response, invalid).",
		}, []string{"kind"}),
		framesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "frames_sent_total",
			Help: "Outbound frames written to transports.",
		}),
		bytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "received_bytes_total",
			Help: "Inbound frame bytes.",
		}),
		bytesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sent_bytes_total",
			Help: "Outbound frame bytes.",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "decode_errors_total",
			Help: "Inbound frames that could not be decoded or named an unknown handler.",
		}),
		droppedResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "dropped_responses_total",
			Help: "Responses for transactions nobody waits for anymore.",
		}),
		unsubscribes: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "unsubscribes_total",
			Help: "Streams cancelled by a resent dispatch.",
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "dispatches_inflight",
			Help: "Handlers currently running.",
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "dispatches_total",
			Help: "Dispatched calls by handler and outcome.",
		}, []string{"name", "outcome"}),
		dispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "dispatch_duration_seconds",
			Help:    "Handler run time; for streams, the subscription lifetime.",
			Buckets: cfg.Buckets,
		}, []string{"name"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// FrameReceived records one inbound frame of the given kind.
func (m *Metrics) FrameReceived(kind string, size int) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(kind).Inc()
	m.bytesIn.Add(float64(size))
}

func (m *Metrics) FrameSent(size int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.bytesOut.Add(float64(size))
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) ResponseDropped() {
	if m == nil {
		return
	}
	m.droppedResponses.Inc()
}

func (m *Metrics) Unsubscribed() {
	if m == nil {
		return
	}
	m.unsubscribes.Inc()
}

// DispatchStarted marks a handler as running; call the returned func when it finishes.
func (m *Metrics) DispatchStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// ObserveDispatch records a finished handler run.
func (m *Metrics) ObserveDispatch(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.dispatches.WithLabelValues(name, outcome).Inc()
	m.dispatchDuration.WithLabelValues(name).Observe(d.Seconds())
}
