package registry

import (
	"time"

	"github.com/valuemesh/subscriber/internal/wire"
)

// EventSink receives best-effort notifications of registry state
// transitions, used by the optional debug introspection feed. A
// Registry with no sink attached behaves identically — nothing here
// ever blocks or fails because no sink is listening.
type EventSink interface {
	ConnectionUp(addr string)
	ConnectionDown(addr string)
	SubscribedPath(path wire.Path)
	UnsubscribedPath(path wire.Path)
	DurableStateChanged(subID wire.SubID, alive bool)
}

// SetEventSink attaches sink to r. Pass nil to detach.
func (r *Registry) SetEventSink(sink EventSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Registry) notifySink(fn func(EventSink)) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

// MetricsSink receives counts and latencies for every registry
// operation that has an observable outcome, used to back the
// subscriber's Prometheus surface. A Registry with no sink attached
// behaves identically.
type MetricsSink interface {
	SubscribeAttempted()
	SubscribeSucceeded(latency time.Duration)
	SubscribeFailed(cause string)
	Unsubscribed()
	ConnectionOpened()
	ConnectionClosed(d time.Duration)
	ConnectionError()
	DurableResubAttempt()
	DurableResubSucceeded()
	SetDurableBackoffDepth(sum int)
	SetDurableAlive(n int)
}

// SetMetricsSink attaches ms to r. Pass nil to detach.
func (r *Registry) SetMetricsSink(ms MetricsSink) {
	r.mu.Lock()
	r.metrics = ms
	r.mu.Unlock()
}

func (r *Registry) notifyMetrics(fn func(MetricsSink)) {
	r.mu.Lock()
	ms := r.metrics
	r.mu.Unlock()
	if ms != nil {
		fn(ms)
	}
}
