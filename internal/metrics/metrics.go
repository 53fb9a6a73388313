// Package metrics is the subscriber's single consolidated metrics
// surface: Prometheus counters/gauges/histograms for connection,
// subscribe, and resubscribe activity, plus a gopsutil-backed host
// sampler for operational visibility. The teacher shipped three
// overlapping metrics implementations (a Prometheus-based one, a
// JSON-snapshot one, and a delegating wrapper over the snapshot one);
// this consolidates them into the one shape every other component here
// actually needs (see DESIGN.md).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the subscriber's Prometheus metrics surface.
type Registry struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionErrors  prometheus.Counter
	connectionDuration prometheus.Histogram

	subscribesTotal   prometheus.Counter
	subscribesActive  prometheus.Gauge
	subscribeLatency  prometheus.Histogram
	subscribeErrors   *prometheus.CounterVec

	durableResubAttempts prometheus.Counter
	durableResubSuccess  prometheus.Counter
	durableBackoffDepth  prometheus.Gauge
	durableAlive         prometheus.Gauge

	updatesReceived prometheus.Counter
	updateBatchSize prometheus.Histogram

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	active    int64
}

// NewRegistry constructs and registers every metric with the default
// Prometheus registerer, following the teacher's promauto.New*
// constructor pattern.
func NewRegistry() *Registry {
	return &Registry{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_publisher_connections_total",
			Help: "Total number of publisher connections attempted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_publisher_connections_active",
			Help: "Number of currently active publisher connections",
		}),
		connectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_publisher_connection_errors_total",
			Help: "Total number of publisher connection failures",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "subscriber_publisher_connection_duration_seconds",
			Help:    "Duration of publisher connections",
			Buckets: prometheus.DefBuckets,
		}),

		subscribesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_subscribes_total",
			Help: "Total number of subscribe attempts",
		}),
		subscribesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_subscribes_active",
			Help: "Number of currently live subscriptions",
		}),
		subscribeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "subscriber_subscribe_latency_seconds",
			Help:    "Latency of the resolve+connect+subscribe pipeline",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		subscribeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subscriber_subscribe_errors_total",
			Help: "Total number of subscribe failures by cause",
		}, []string{"cause"}),

		durableResubAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_durable_resubscribe_attempts_total",
			Help: "Total number of durable resubscribe attempts",
		}),
		durableResubSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_durable_resubscribe_success_total",
			Help: "Total number of durable resubscribe attempts that succeeded",
		}),
		durableBackoffDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_durable_backoff_depth",
			Help: "Sum of retry counts across currently dead durable subscriptions",
		}),
		durableAlive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_durable_alive",
			Help: "Number of durable subscriptions currently connected",
		}),

		updatesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscriber_updates_received_total",
			Help: "Total number of value updates received from publishers",
		}),
		updateBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "subscriber_update_batch_size",
			Help:    "Number of updates coalesced per delivered batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_goroutines_count",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_memory_usage_bytes",
			Help: "Heap memory usage in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "subscriber_cpu_usage_percent",
			Help: "Host CPU usage percentage",
		}),
	}
}

func (r *Registry) ConnectionOpened() {
	r.connectionsTotal.Inc()
	r.connectionsActive.Inc()
}

func (r *Registry) ConnectionClosed(d time.Duration) {
	r.connectionsActive.Dec()
	r.connectionDuration.Observe(d.Seconds())
}

func (r *Registry) ConnectionError() { r.connectionErrors.Inc() }

func (r *Registry) SubscribeAttempted() { r.subscribesTotal.Inc() }

func (r *Registry) SubscribeSucceeded(latency time.Duration) {
	r.subscribeLatency.Observe(latency.Seconds())
	r.mu.Lock()
	r.active++
	r.mu.Unlock()
	r.subscribesActive.Inc()
}

func (r *Registry) SubscribeFailed(cause string) {
	r.subscribeErrors.WithLabelValues(cause).Inc()
}

func (r *Registry) Unsubscribed() {
	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	r.subscribesActive.Dec()
}

func (r *Registry) DurableResubAttempt() { r.durableResubAttempts.Inc() }
func (r *Registry) DurableResubSucceeded() { r.durableResubSuccess.Inc() }
func (r *Registry) SetDurableBackoffDepth(sum int) { r.durableBackoffDepth.Set(float64(sum)) }
func (r *Registry) SetDurableAlive(n int) { r.durableAlive.Set(float64(n)) }

func (r *Registry) UpdateReceived(batchSize int) {
	r.updatesReceived.Add(float64(batchSize))
	r.updateBatchSize.Observe(float64(batchSize))
}

func (r *Registry) SetGoroutines(n int)        { r.goroutinesCount.Set(float64(n)) }
func (r *Registry) SetMemoryBytes(b uint64)    { r.memoryUsage.Set(float64(b)) }
func (r *Registry) SetCPUPercent(p float64)    { r.cpuUsage.Set(p) }

func (r *Registry) ActiveSubscriptions() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registry) Uptime() time.Duration { return time.Since(r.startTime) }
