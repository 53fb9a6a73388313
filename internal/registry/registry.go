// Package registry implements the subscriber's connection-independent
// bookkeeping: the four-phase subscribe pipeline (dedup, resolve,
// connect+subscribe, await), the dial-once-per-address cache of
// publisher connection actors, and the unsubscribe routine that feeds
// the durable scheduler. A single mutex guards every map here and is
// never held across a network call or a channel send to a caller.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valuemesh/subscriber/internal/auth"
	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/publisher"
	"github.com/valuemesh/subscriber/internal/resolver"
	"github.com/valuemesh/subscriber/internal/wire"
)

// PathResult is one element of a Subscribe call's result set.
type PathResult struct {
	Path    wire.Path
	Handle  *Handle
	Err     error
}

// Handle is the connection-bound identity of a live subscription,
// exposed to pkg/subscriber to build Val/DVal on top of.
type Handle struct {
	SubID   wire.SubID
	ProtoID wire.ProtoID
	Addr    string
	Path    wire.Path
	Alive   atomicBool
}

type atomicBool struct{ v atomic.Bool }

func (b *atomicBool) set(val bool) { b.v.Store(val) }
func (b *atomicBool) get() bool    { return b.v.Load() }

type subStatus struct {
	handle  *Handle // non-nil once subscribed; liveness tracked via handle.Alive
	waiters []chan PathResult
}

// Registry is the subscriber's shared, connection-independent state.
type Registry struct {
	mu sync.Mutex

	resolver    resolver.Client
	authCtx     func(addr, spn string) auth.Context
	connections map[string]*publisher.Conn
	subscribed  map[wire.Path]*subStatus

	durableDead   map[wire.SubID]*durableEntry
	durableAlive  map[wire.SubID]*durableEntry
	durableHandle map[wire.SubID]*Handle
	triggerResub  chan struct{}

	logger  *log.Logger
	sink    EventSink
	metrics MetricsSink
}

type durableEntry struct {
	path           wire.Path
	tries          int
	nextTry        time.Time
	streams        []DurableStream
	stateListeners []chan<- StateEvent
}

// DurableStream is one update destination a durable subscription keeps
// re-attached across reconnects.
type DurableStream struct {
	ChanID        wire.ChanID
	Ch            chan *batchpool.Batch
	BeginWithLast bool
}

// StateEvent reports a durable subscription's dead/alive transitions.
type StateEvent struct {
	SubID wire.SubID
	Alive bool
	Err   error
}

// DeadDurable is a snapshot of one durable subscription eligible for a
// resubscribe attempt, handed to internal/durable by NextRetryBatch.
type DeadDurable struct {
	SubID   wire.SubID
	Path    wire.Path
	Tries   int
	NextTry time.Time
}

// New builds a Registry. authCtx mints a fresh auth.Context for each
// new connection attempt to addr with the given target SPN (empty for
// anonymous resolvers).
func New(rc resolver.Client, authCtx func(addr, spn string) auth.Context, logger *log.Logger) *Registry {
	r := &Registry{
		resolver:     rc,
		authCtx:      authCtx,
		connections:  make(map[string]*publisher.Conn),
		subscribed:   make(map[wire.Path]*subStatus),
		durableDead:  make(map[wire.SubID]*durableEntry),
		durableAlive: make(map[wire.SubID]*durableEntry),
		triggerResub: make(chan struct{}, 1),
		logger:       logger,
	}
	return r
}

// Subscribe runs the four-phase pipeline for every requested path and
// returns one PathResult per input path, in order.
func (r *Registry) Subscribe(ctx context.Context, paths []wire.Path, timeout time.Duration) []PathResult {
	results := make([]PathResult, len(paths))
	pending := make(map[int]wire.Path)

	// Phase 1: Dedup — resolve against already-subscribed/pending state
	// under the lock; anything not already in flight becomes a fresh
	// wait slot owned by this call.
	type waitSlot struct {
		idx int
		ch  chan PathResult
	}
	var waits []waitSlot
	var toResolve []wire.Path
	toResolveIdx := make(map[wire.Path][]int)

	r.mu.Lock()
	for i, p := range paths {
		st, ok := r.subscribed[p]
		if ok && st.handle != nil && st.handle.Alive.get() {
			results[i] = PathResult{Path: p, Handle: st.handle}
			continue
		}
		if ok && st.handle == nil {
			// Genuinely in flight: a concurrent caller already owns the
			// resolve+connect+subscribe attempt. Piggyback on it.
			ch := make(chan PathResult, 1)
			st.waiters = append(st.waiters, ch)
			waits = append(waits, waitSlot{idx: i, ch: ch})
			continue
		}
		// Either never subscribed, or a stale dead handle left behind by
		// a connection that died without anyone re-resolving yet — both
		// start a fresh Pending.
		r.subscribed[p] = &subStatus{}
		pending[i] = p
		if _, seen := toResolveIdx[p]; !seen {
			toResolve = append(toResolve, p)
		}
		toResolveIdx[p] = append(toResolveIdx[p], i)
	}
	r.mu.Unlock()

	for range pending {
		r.notifyMetrics(func(m MetricsSink) { m.SubscribeAttempted() })
	}

	// Phase 2: Resolve.
	var resolved wire.Resolved
	var resolveErr error
	if len(toResolve) > 0 {
		resolved, resolveErr = r.resolver.Resolve(ctx, toResolve)
	}

	// Phase 3: Connect + Subscribe.
	if resolveErr != nil {
		for i, p := range pending {
			results[i] = PathResult{Path: p, Err: fmt.Errorf("%w: %v", wire.ErrResolveFailed, resolveErr)}
			r.clearPending(p, results[i])
			r.notifyMetrics(func(m MetricsSink) { m.SubscribeFailed("resolve_failed") })
		}
	} else {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for ri, p := range toResolve {
			candidates := resolved.Addrs[ri]
			idxs := toResolveIdx[p]
			wg.Add(1)
			go func(p wire.Path, candidates []wire.AddrToken, idxs []int) {
				defer wg.Done()
				start := time.Now()
				res := r.connectAndSubscribe(ctx, p, candidates, resolved.Krb5SPNs[firstAddr(candidates)], timeout)
				mu.Lock()
				for _, i := range idxs {
					results[i] = res
				}
				mu.Unlock()
				r.clearPending(p, res)
				if res.Err == nil {
					latency := time.Since(start)
					r.notifyMetrics(func(m MetricsSink) { m.SubscribeSucceeded(latency) })
				} else {
					r.notifyMetrics(func(m MetricsSink) { m.SubscribeFailed("connect_failed") })
				}
			}(p, candidates, idxs)
		}
		wg.Wait()
	}

	// Phase 4: Await results for paths that piggybacked on an in-flight
	// subscribe owned by a concurrent caller.
	for _, w := range waits {
		select {
		case results[w.idx] = <-w.ch:
		case <-ctx.Done():
			results[w.idx] = PathResult{Path: paths[w.idx], Err: fmt.Errorf("%w: %v", wire.ErrTimedOut, ctx.Err())}
		}
	}

	return results
}

func firstAddr(candidates []wire.AddrToken) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].Addr
}

func (r *Registry) clearPending(p wire.Path, res PathResult) {
	r.mu.Lock()
	st, ok := r.subscribed[p]
	if !ok {
		r.mu.Unlock()
		return
	}
	if res.Err != nil {
		delete(r.subscribed, p)
	} else {
		st.handle = res.Handle
		st.handle.Alive.set(true)
	}
	waiters := st.waiters
	st.waiters = nil
	r.mu.Unlock()

	if res.Err == nil {
		r.notifySink(func(s EventSink) { s.SubscribedPath(p) })
	}
	for _, w := range waiters {
		w <- res
	}
}

func (r *Registry) connectAndSubscribe(ctx context.Context, p wire.Path, candidates []wire.AddrToken, spn string, timeout time.Duration) PathResult {
	at, ok := resolver.PickAddr(candidates)
	if !ok {
		return PathResult{Path: p, Err: wire.ErrPathNotFound}
	}

	conn, err := r.connFor(ctx, at.Addr, spn)
	if err != nil {
		return PathResult{Path: p, Err: err}
	}

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, p, timeout)
	select {
	case result := <-replyCh:
		if result.Err != nil {
			return PathResult{Path: p, Err: result.Err}
		}
		h := &Handle{SubID: subID, ProtoID: result.ProtoID, Addr: at.Addr, Path: p}
		return PathResult{Path: p, Handle: h}
	case <-ctx.Done():
		return PathResult{Path: p, Err: fmt.Errorf("%w: %v", wire.ErrTimedOut, ctx.Err())}
	case <-time.After(timeout):
		return PathResult{Path: p, Err: wire.ErrTimedOut}
	}
}

func (r *Registry) connFor(ctx context.Context, addr, spn string) (*publisher.Conn, error) {
	r.mu.Lock()
	if c, ok := r.connections[addr]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	var ac auth.Context
	if r.authCtx != nil {
		ac = r.authCtx(addr, spn)
	}
	conn, err := publisher.Dial(ctx, addr, ac, r.logger, r.subDied)
	if err != nil {
		r.notifyMetrics(func(m MetricsSink) { m.ConnectionError() })
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.connections[addr]; ok {
		r.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	r.connections[addr] = conn
	r.mu.Unlock()

	r.notifySink(func(s EventSink) { s.ConnectionUp(addr) })
	r.notifyMetrics(func(m MetricsSink) { m.ConnectionOpened() })

	connectedAt := time.Now()
	go func() {
		<-conn.Done()
		r.mu.Lock()
		if r.connections[addr] == conn {
			delete(r.connections, addr)
		}
		r.mu.Unlock()
		r.notifySink(func(s EventSink) { s.ConnectionDown(addr) })
		r.notifyMetrics(func(m MetricsSink) { m.ConnectionClosed(time.Since(connectedAt)) })
	}()

	return conn, nil
}

// Unsubscribe tears down a plain subscription: the path's registry
// entry is removed and the owning connection is told to drop it.
func (r *Registry) Unsubscribe(p wire.Path, h *Handle) {
	h.Alive.set(false)
	r.mu.Lock()
	delete(r.subscribed, p)
	conn, ok := r.connections[h.Addr]
	r.mu.Unlock()
	if ok {
		conn.Unsubscribe(h.ProtoID)
	}
	r.notifySink(func(s EventSink) { s.UnsubscribedPath(p) })
	r.notifyMetrics(func(m MetricsSink) { m.Unsubscribed() })
}

// ConnForAddr exposes the cached connection for addr, used by the
// durable scheduler to re-attach stream listeners without going through
// the full Subscribe pipeline.
func (r *Registry) ConnForAddr(addr string) (*publisher.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[addr]
	return c, ok
}

// TriggerResub wakes the durable scheduler, coalescing bursts of
// failures into a single wakeup.
func (r *Registry) TriggerResub() {
	select {
	case r.triggerResub <- struct{}{}:
	default:
	}
}

// ResubWake exposes the wake channel to internal/durable.
func (r *Registry) ResubWake() <-chan struct{} { return r.triggerResub }

// DurableDead moves a durable entry into the dead set, to be retried by
// the resubscribe scheduler, preserving whatever streams and state
// listeners it already had while alive. A Denied reply is treated as
// retryable the same as a dead connection (see DESIGN.md's Open
// Question decision).
func (r *Registry) DurableDead(subID wire.SubID, path wire.Path) {
	r.mu.Lock()
	e, ok := r.durableAlive[subID]
	if ok {
		delete(r.durableAlive, subID)
	} else {
		e = &durableEntry{path: path}
	}
	r.durableDead[subID] = e
	delete(r.durableHandle, subID)
	listeners := append([]chan<- StateEvent(nil), e.stateListeners...)
	r.mu.Unlock()

	notify(listeners, StateEvent{SubID: subID, Alive: false, Err: wire.ErrConnectionDied})
	r.notifySink(func(s EventSink) { s.DurableStateChanged(subID, false) })
	r.TriggerResub()
}

// subDied is called by a publisher.Conn when it loses a subscription,
// either because the publisher itself sent Unsubscribed or because the
// connection died outright. subID is the connection-level id. The
// matching registry entry is dropped so a later Subscribe call for the
// same path resolves and connects fresh instead of reusing a handle
// bound to a dead connection; a durable subscription riding on that
// handle moves to the dead set for the resubscribe scheduler to pick
// back up.
func (r *Registry) subDied(subID wire.SubID, path wire.Path) {
	r.mu.Lock()
	if st, ok := r.subscribed[path]; ok && st.handle != nil && st.handle.SubID == subID {
		st.handle.Alive.set(false)
		delete(r.subscribed, path)
	}
	var durableID wire.SubID
	durable := false
	for id, h := range r.durableHandle {
		if h.SubID == subID {
			durableID, durable = id, true
			break
		}
	}
	r.mu.Unlock()
	if durable {
		r.DurableDead(durableID, path)
	}
}

// RegisterDurable records a brand-new durable subscription as dead
// (never yet connected), so the scheduler's next pass picks it up
// immediately.
func (r *Registry) RegisterDurable(subID wire.SubID, path wire.Path) {
	r.mu.Lock()
	r.durableDead[subID] = &durableEntry{path: path}
	r.mu.Unlock()
	r.TriggerResub()
}

// AddDurableStream records s as an update destination for subID, to be
// attached on every future reconnect. It does not attach s to a live
// connection itself: it reports whether the subscription is alive and,
// if so, its connection address and ProtoID so the caller can attach.
func (r *Registry) AddDurableStream(subID wire.SubID, s DurableStream) (live bool, addr string, protoID wire.ProtoID) {
	r.mu.Lock()
	if e, ok := r.durableAlive[subID]; ok {
		e.streams = append(e.streams, s)
	} else if e, ok := r.durableDead[subID]; ok {
		e.streams = append(e.streams, s)
	}
	h, ok := r.durableHandle[subID]
	r.mu.Unlock()
	if ok {
		return true, h.Addr, h.ProtoID
	}
	return false, "", 0
}

// AddDurableStateListener registers ch to receive future dead/alive
// transitions for subID.
func (r *Registry) AddDurableStateListener(subID wire.SubID, ch chan<- StateEvent) {
	r.mu.Lock()
	if e, ok := r.durableAlive[subID]; ok {
		e.stateListeners = append(e.stateListeners, ch)
	} else if e, ok := r.durableDead[subID]; ok {
		e.stateListeners = append(e.stateListeners, ch)
	}
	r.mu.Unlock()
}

// NextRetryBatch snapshots every dead durable entry whose nextTry has
// elapsed, the first step of the resubscribe scheduler's loop.
func (r *Registry) NextRetryBatch(now time.Time) []DeadDurable {
	r.mu.Lock()
	var batch []DeadDurable
	backoffDepth := 0
	for id, e := range r.durableDead {
		backoffDepth += e.tries
		if e.nextTry.After(now) {
			continue
		}
		batch = append(batch, DeadDurable{SubID: id, Path: e.path, Tries: e.tries, NextTry: e.nextTry})
	}
	aliveCount := len(r.durableAlive)
	r.mu.Unlock()

	r.notifyMetrics(func(m MetricsSink) {
		m.SetDurableBackoffDepth(backoffDepth)
		m.SetDurableAlive(aliveCount)
	})
	return batch
}

// ResubscribeOne attempts to bring one dead durable subscription back
// to life: connect, subscribe, and on success re-attach every recorded
// stream with BeginWithLast set (the entry may have gone stale while
// disconnected, so callers always resubscribe from a clean slate).
func (r *Registry) ResubscribeOne(ctx context.Context, d DeadDurable, timeout time.Duration) error {
	r.notifyMetrics(func(m MetricsSink) { m.DurableResubAttempt() })
	results := r.Subscribe(ctx, []wire.Path{d.Path}, timeout)
	res := results[0]
	if res.Err != nil {
		r.mu.Lock()
		if e, ok := r.durableDead[d.SubID]; ok {
			e.tries++
			e.nextTry = time.Now().Add(time.Duration(e.tries) * time.Second)
		}
		listeners := r.listenersFor(d.SubID)
		r.mu.Unlock()
		notify(listeners, StateEvent{SubID: d.SubID, Alive: false, Err: res.Err})
		r.notifySink(func(s EventSink) { s.DurableStateChanged(d.SubID, false) })
		return res.Err
	}

	r.mu.Lock()
	e, ok := r.durableDead[d.SubID]
	if ok {
		delete(r.durableDead, d.SubID)
		e.tries = 0
		e.nextTry = time.Time{}
		r.durableAlive[d.SubID] = e
	}
	if r.durableHandle == nil {
		r.durableHandle = make(map[wire.SubID]*Handle)
	}
	r.durableHandle[d.SubID] = res.Handle
	streams := append([]DurableStream(nil), e.streams...)
	listeners := append([]chan<- StateEvent(nil), e.stateListeners...)
	r.mu.Unlock()

	conn, ok := r.ConnForAddr(res.Handle.Addr)
	if ok {
		for _, s := range streams {
			conn.Stream(res.Handle.ProtoID, s.ChanID, s.Ch, true)
		}
	}
	notify(listeners, StateEvent{SubID: d.SubID, Alive: true})
	r.notifySink(func(s EventSink) { s.DurableStateChanged(d.SubID, true) })
	r.notifyMetrics(func(m MetricsSink) { m.DurableResubSucceeded() })
	return nil
}

func (r *Registry) listenersFor(subID wire.SubID) []chan<- StateEvent {
	if e, ok := r.durableDead[subID]; ok {
		return append([]chan<- StateEvent(nil), e.stateListeners...)
	}
	return nil
}

func notify(listeners []chan<- StateEvent, ev StateEvent) {
	for _, l := range listeners {
		select {
		case l <- ev:
		default:
		}
	}
}

// Logger exposes the registry's logger to collaborating packages.
func (r *Registry) Logger() *log.Logger { return r.logger }
