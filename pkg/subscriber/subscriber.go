// Package subscriber is the public API: maintain live subscriptions to
// named values hosted by publishers, discovered through a resolver.
package subscriber

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/valuemesh/subscriber/internal/auth"
	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/durable"
	"github.com/valuemesh/subscriber/internal/registry"
	"github.com/valuemesh/subscriber/internal/resolver"
	"github.com/valuemesh/subscriber/internal/wire"
)

// Batch is the unit of delivery on an update channel: zero or more
// (SubID, Value) pairs coalesced from one read off the wire. Callers
// must call Release when done so the underlying storage is recycled.
type Batch = batchpool.Batch

// Update is one entry in a Batch.
type Update = batchpool.Update

// Config configures a Subscriber.
type Config struct {
	Resolver resolver.Config
	// AuthContext mints a fresh handshake participant for a new
	// connection to addr, authenticating as spn (empty for anonymous).
	// Nil means every connection is anonymous.
	AuthContext func(addr, spn string) auth.Context
	Logger      *log.Logger
}

// Subscriber maintains live subscriptions to named values.
type Subscriber struct {
	reg       *registry.Registry
	scheduler *durable.Scheduler
	cancel    context.CancelFunc
	logger    *log.Logger
}

// New builds a Subscriber and starts its durable resubscribe scheduler.
func New(cfg Config) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[subscriber] ", log.LstdFlags)
	}
	rc := resolver.New(cfg.Resolver)
	reg := registry.New(rc, cfg.AuthContext, logger)
	sched := durable.New(reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	return &Subscriber{reg: reg, scheduler: sched, cancel: cancel, logger: logger}
}

// SetEventSink attaches sink to the Subscriber's internal registry,
// used to feed the optional debug introspection feed. Pass nil to
// detach.
func (s *Subscriber) SetEventSink(sink registry.EventSink) {
	s.reg.SetEventSink(sink)
}

// SetMetricsSink attaches ms to the Subscriber's internal registry,
// used to back the operational metrics surface. Pass nil to detach.
func (s *Subscriber) SetMetricsSink(ms registry.MetricsSink) {
	s.reg.SetMetricsSink(ms)
}

// Close stops the durable resubscribe scheduler. In-flight
// subscriptions are not explicitly torn down; closing the process is
// the normal way to release publisher connections.
func (s *Subscriber) Close() {
	s.cancel()
	<-s.scheduler.Done()
}

// Subscribe runs the resolve+connect+subscribe pipeline for every path
// and returns one plain Val (or error) per path, in the same order.
func (s *Subscriber) Subscribe(ctx context.Context, paths []wire.Path, timeout time.Duration) []ValResult {
	results := s.reg.Subscribe(ctx, paths, timeout)
	out := make([]ValResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = ValResult{Path: r.Path, Err: r.Err}
			continue
		}
		out[i] = ValResult{Path: r.Path, Val: newVal(s.reg, r.Handle, r.Path)}
	}
	return out
}

// SubscribeOne subscribes to a single path.
func (s *Subscriber) SubscribeOne(ctx context.Context, path wire.Path, timeout time.Duration) (*Val, error) {
	res := s.Subscribe(ctx, []wire.Path{path}, timeout)[0]
	return res.Val, res.Err
}

// DurableSubscribe returns a DVal immediately; it begins (re)connecting
// in the background and transparently survives publisher failures.
func (s *Subscriber) DurableSubscribe(path wire.Path) *DVal {
	subID := wire.NewSubID()
	s.reg.RegisterDurable(subID, path)
	return &DVal{reg: s.reg, subID: subID, path: path}
}

// ValResult is one element of a Subscribe call's result set.
type ValResult struct {
	Path wire.Path
	Val  *Val
	Err  error
}
