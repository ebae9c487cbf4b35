// Package metrics provides the Prometheus metrics registry for the ingester.
//
// A Manager is constructed once at startup, handed to every component that
// records metrics, and closed at shutdown. There is no package-level state:
// two managers never share collectors. All recording methods are safe on a
// nil *Manager, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a registry and every collector registered on it.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         *prometheus.Registry

	mu         sync.Mutex
	collectors []prometheus.Collector
	closed     bool

	// Stream health
	streamEvents     *prometheus.CounterVec
	streamReconnects *prometheus.CounterVec
	streamState      *prometheus.GaugeVec
	streamBackoff    *prometheus.GaugeVec

	// Mapping
	eventsMapped         *prometheus.CounterVec
	mappingErrors        *prometheus.CounterVec
	modifications        *prometheus.CounterVec
	mappingLatency       prometheus.Histogram
	timestampRegressions *prometheus.CounterVec
	duplicates           *prometheus.CounterVec

	// Queue
	queueSize     *prometheus.GaugeVec
	queueCapacity *prometheus.GaugeVec

	// Sink
	sinkWrites  *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
	sinkLatency *prometheus.HistogramVec

	// Checkpoints
	checkpointWrites prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// trackingRegisterer remembers what promauto registers so Close can undo it.
type trackingRegisterer struct {
	m *Manager
}

func (t trackingRegisterer) Register(c prometheus.Collector) error {
	if err := t.m.registry.Register(c); err != nil {
		return err
	}
	t.m.collectors = append(t.m.collectors, c)
	return nil
}

func (t trackingRegisterer) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := t.Register(c); err != nil {
			panic(err)
		}
	}
}

func (t trackingRegisterer) Unregister(c prometheus.Collector) bool {
	return t.m.registry.Unregister(c)
}

// New creates a manager. Without WithPrometheusRegistry it owns a fresh
// registry, so managers never collide.
func New(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "spyro",
		subsystem:        "ingest",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(trackingRegisterer{m}).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(trackingRegisterer{m}).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(trackingRegisterer{m})

	m.streamEvents = m.counterVec("stream_events_total", "Envelopes delivered by provider streams", "provider")
	m.streamReconnects = m.counterVec("stream_reconnects_total", "Provider stream disconnects followed by a retry", "provider", "reason")
	m.streamState = m.gaugeVec("stream_state", "Resilient stream state (0 connecting, 1 streaming, 2 backoff)", "provider")
	m.streamBackoff = m.gaugeVec("stream_backoff_seconds", "Current backoff before the next reconnect", "provider")

	m.eventsMapped = m.counterVec("events_mapped_total", "Events mapped into entity modifications", "provider", "kind")
	m.mappingErrors = m.counterVec("mapping_errors_total", "Events rejected by the mapping engine", "provider", "kind")
	m.modifications = m.counterVec("modifications_total", "Entity modifications emitted", "provider", "entity", "op")
	m.mappingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "mapping_latency_seconds",
		Help:        "Time spent mapping one event",
		Buckets:     []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		ConstLabels: m.constLabels,
	})
	m.timestampRegressions = m.counterVec("timestamp_regressions_total", "Events whose timestamp went backwards within a provider stream", "provider")
	m.duplicates = m.counterVec("duplicates_total", "Envelopes suppressed by the replay window", "provider")

	m.queueSize = m.gaugeVec("queue_size", "Envelopes buffered between stream and mapper", "provider")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Capacity of the per-provider buffer", "provider")

	m.sinkWrites = m.counterVec("sink_writes_total", "Modification batches accepted by a sink", "sink")
	m.sinkErrors = m.counterVec("sink_errors_total", "Modification batches rejected by a sink", "sink")
	m.sinkLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sink_latency_seconds",
		Help:        "Sink write latency",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"sink"})

	m.checkpointWrites = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "checkpoint_writes_total",
		Help:        "Cursor checkpoints persisted",
		ConstLabels: m.constLabels,
	})

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_memory_usage_bytes",
		Help:        "Heap bytes allocated",
		ConstLabels: m.constLabels,
	})
	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_goroutine_count",
		Help:        "Number of goroutines",
		ConstLabels: m.constLabels,
	})
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_gc_pause_time_milliseconds",
		Help:        "Average GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.constLabels,
	})
}

// Registry returns the registry owned by the manager.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the manager's registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close unregisters every collector. Safe to call more than once.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for _, c := range m.collectors {
		if !m.registry.Unregister(c) {
			return ErrUnregister
		}
	}
	m.collectors = nil
	m.closed = true
	return nil
}

// RecordStreamEvent counts an envelope delivered by a provider stream.
func (m *Manager) RecordStreamEvent(provider string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(provider).Inc()
}

// RecordReconnect counts a disconnect; reason is "open", "recv" or "eof".
func (m *Manager) RecordReconnect(provider, reason string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(provider, reason).Inc()
}

// SetStreamState records the numeric stream state.
func (m *Manager) SetStreamState(provider string, state int) {
	if m == nil {
		return
	}
	m.streamState.WithLabelValues(provider).Set(float64(state))
}

// SetBackoff records the current backoff in seconds.
func (m *Manager) SetBackoff(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.streamBackoff.WithLabelValues(provider).Set(seconds)
}

// RecordMapped counts a successfully mapped event and its modifications.
func (m *Manager) RecordMapped(provider, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsMapped.WithLabelValues(provider, kind).Inc()
	m.mappingLatency.Observe(seconds)
}

// RecordModification counts one emitted modification.
func (m *Manager) RecordModification(provider, entity, op string) {
	if m == nil {
		return
	}
	m.modifications.WithLabelValues(provider, entity, op).Inc()
}

// RecordMappingError counts a rejected event.
func (m *Manager) RecordMappingError(provider, kind string) {
	if m == nil {
		return
	}
	m.mappingErrors.WithLabelValues(provider, kind).Inc()
	m.errorsByComponent.WithLabelValues("mapping", "malformed_event").Inc()
}

// RecordTimestampRegression counts an out-of-order timestamp.
func (m *Manager) RecordTimestampRegression(provider string) {
	if m == nil {
		return
	}
	m.timestampRegressions.WithLabelValues(provider).Inc()
}

// RecordDuplicate counts an envelope dropped by the replay window.
func (m *Manager) RecordDuplicate(provider string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(provider).Inc()
}

// UpdateQueue records buffer occupancy for a provider.
func (m *Manager) UpdateQueue(provider string, size, capacity int) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(provider).Set(float64(size))
	m.queueCapacity.WithLabelValues(provider).Set(float64(capacity))
}

// RecordSinkWrite records the outcome of one sink batch.
func (m *Manager) RecordSinkWrite(sink string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.sinkLatency.WithLabelValues(sink).Observe(seconds)
	if err != nil {
		m.sinkErrors.WithLabelValues(sink).Inc()
		m.errorsByComponent.WithLabelValues("sink", "rejected").Inc()
		return
	}
	m.sinkWrites.WithLabelValues(sink).Inc()
}

// RecordCheckpoint counts a persisted cursor checkpoint.
func (m *Manager) RecordCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointWrites.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func (m *Manager) RecordHTTPRequest(endpoint, method string, status int, durationMs float64) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(endpoint, method, code).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, code).Observe(durationMs)
}

// RecordError records an error by component and type.
func (m *Manager) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystem records runtime memory, goroutine and GC figures.
func (m *Manager) UpdateSystem(allocBytes uint64, goroutines int, avgGCPauseMs float64) {
	if m == nil {
		return
	}
	m.systemMemoryUsage.Set(float64(allocBytes))
	m.systemGoroutineCount.Set(float64(goroutines))
	if avgGCPauseMs > 0 {
		m.systemGCPauseTime.Observe(avgGCPauseMs)
	}
}
