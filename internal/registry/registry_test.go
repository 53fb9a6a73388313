package registry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuemesh/subscriber/internal/channel"
	"github.com/valuemesh/subscriber/internal/wire"
)

// fakeResolver answers every Resolve call with the same single address
// for every requested path, counting how many times it was called.
type fakeResolver struct {
	mu    sync.Mutex
	calls int
	addr  string
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, paths []wire.Path) (wire.Resolved, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return wire.Resolved{}, f.err
	}
	addrs := make([][]wire.AddrToken, len(paths))
	for i := range paths {
		addrs[i] = []wire.AddrToken{{Addr: f.addr}}
	}
	return wire.Resolved{Addrs: addrs}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisherListener accepts connections, completes the anonymous
// handshake, and answers every ToSubscribe with a FromSubscribed for the
// same path, carrying an incrementing ProtoID.
func fakePublisherListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var nextProtoID wire.ProtoID = 1
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneConn(nc, &nextProtoID)
		}
	}()
	return ln.Addr().String()
}

func serveOneConn(nc net.Conn, nextProtoID *wire.ProtoID) {
	ch := channel.New(nc)
	var hello wire.Hello
	if err := ch.DecodeInto(&hello); err != nil {
		return
	}
	_ = ch.QueueValue(wire.Hello{Kind: wire.HelloAnonymousKind})
	_ = ch.Flush(context.Background())

	for {
		var to wire.To
		if err := ch.DecodeInto(&to); err != nil {
			return
		}
		if to.Kind == wire.ToSubscribeKind {
			protoID := *nextProtoID
			*nextProtoID++
			_ = ch.QueueValue(wire.From{
				Kind: wire.FromSubscribedKind,
				Subscribed: wire.FromSubscribed{
					SubID:   to.Sub.ID,
					ProtoID: protoID,
					Current: wire.Int64(1),
				},
			})
			_ = ch.Flush(context.Background())
		}
	}
}

func TestSubscribeDedupesConcurrentCallsToSamePath(t *testing.T) {
	addr := fakePublisherListener(t)
	fr := &fakeResolver{addr: addr}
	reg := New(fr, nil, nil)

	const n = 10
	var wg sync.WaitGroup
	results := make([]PathResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := reg.Subscribe(context.Background(), []wire.Path{"/shared"}, 2*time.Second)
			results[i] = res[0]
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, wire.Path("/shared"), r.Path)
	}
	// Every concurrent caller for the same path must observe the same
	// ProtoID: only one of them actually dialed and subscribed, the rest
	// piggybacked on its in-flight result.
	first := results[0].Handle.ProtoID
	for _, r := range results {
		assert.Equal(t, first, r.Handle.ProtoID)
	}
	assert.Equal(t, 1, fr.callCount())
}

func TestSubscribeResolveFailureIsolatedPerPath(t *testing.T) {
	fr := &fakeResolver{err: wire.ErrResolveFailed}
	reg := New(fr, nil, nil)

	results := reg.Subscribe(context.Background(), []wire.Path{"/a", "/b"}, time.Second)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, wire.ErrResolveFailed)
	}

	// A failed path must not remain stuck in the subscribed map — a
	// later call for the same path should trigger a fresh resolve.
	_ = reg.Subscribe(context.Background(), []wire.Path{"/a"}, time.Second)
	assert.Equal(t, 2, fr.callCount())
}

// fakeMetricsSink records call counts for every MetricsSink method,
// guarded by a mutex since the registry invokes it from multiple
// goroutines.
type fakeMetricsSink struct {
	mu                sync.Mutex
	attempted         int
	succeeded         int
	failed            int
	unsubscribed      int
	connOpened        int
	connClosed        int
	connErr           int
	resubAttempt      int
	resubSucceeded    int
	lastBackoffDepth  int
	lastAliveGaugeSet int
}

func (f *fakeMetricsSink) SubscribeAttempted()             { f.mu.Lock(); f.attempted++; f.mu.Unlock() }
func (f *fakeMetricsSink) SubscribeSucceeded(time.Duration) { f.mu.Lock(); f.succeeded++; f.mu.Unlock() }
func (f *fakeMetricsSink) SubscribeFailed(string)           { f.mu.Lock(); f.failed++; f.mu.Unlock() }
func (f *fakeMetricsSink) Unsubscribed()                    { f.mu.Lock(); f.unsubscribed++; f.mu.Unlock() }
func (f *fakeMetricsSink) ConnectionOpened()                { f.mu.Lock(); f.connOpened++; f.mu.Unlock() }
func (f *fakeMetricsSink) ConnectionClosed(time.Duration)   { f.mu.Lock(); f.connClosed++; f.mu.Unlock() }
func (f *fakeMetricsSink) ConnectionError()                 { f.mu.Lock(); f.connErr++; f.mu.Unlock() }
func (f *fakeMetricsSink) DurableResubAttempt()             { f.mu.Lock(); f.resubAttempt++; f.mu.Unlock() }
func (f *fakeMetricsSink) DurableResubSucceeded()           { f.mu.Lock(); f.resubSucceeded++; f.mu.Unlock() }
func (f *fakeMetricsSink) SetDurableBackoffDepth(sum int) {
	f.mu.Lock()
	f.lastBackoffDepth = sum
	f.mu.Unlock()
}
func (f *fakeMetricsSink) SetDurableAlive(n int) {
	f.mu.Lock()
	f.lastAliveGaugeSet = n
	f.mu.Unlock()
}

var _ MetricsSink = (*fakeMetricsSink)(nil)

func TestSubscribeAndUnsubscribeReportMetrics(t *testing.T) {
	addr := fakePublisherListener(t)
	fr := &fakeResolver{addr: addr}
	reg := New(fr, nil, nil)
	ms := &fakeMetricsSink{}
	reg.SetMetricsSink(ms)

	res := reg.Subscribe(context.Background(), []wire.Path{"/m"}, 2*time.Second)[0]
	require.NoError(t, res.Err)

	ms.mu.Lock()
	assert.Equal(t, 1, ms.attempted)
	assert.Equal(t, 1, ms.succeeded)
	assert.Equal(t, 1, ms.connOpened)
	ms.mu.Unlock()

	reg.Unsubscribe(res.Path, res.Handle)
	ms.mu.Lock()
	assert.Equal(t, 1, ms.unsubscribed)
	ms.mu.Unlock()
}

func TestSubscribeResolveFailureReportsSubscribeFailed(t *testing.T) {
	fr := &fakeResolver{err: wire.ErrResolveFailed}
	reg := New(fr, nil, nil)
	ms := &fakeMetricsSink{}
	reg.SetMetricsSink(ms)

	_ = reg.Subscribe(context.Background(), []wire.Path{"/a"}, time.Second)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Equal(t, 1, ms.failed)
}

func TestUnsubscribeDropsRegistryEntry(t *testing.T) {
	addr := fakePublisherListener(t)
	fr := &fakeResolver{addr: addr}
	reg := New(fr, nil, nil)

	res := reg.Subscribe(context.Background(), []wire.Path{"/x"}, 2*time.Second)[0]
	require.NoError(t, res.Err)

	reg.Unsubscribe(res.Path, res.Handle)
	assert.False(t, res.Handle.Alive.get())

	// Subscribing again must not piggyback on the torn-down handle.
	res2 := reg.Subscribe(context.Background(), []wire.Path{"/x"}, 2*time.Second)[0]
	require.NoError(t, res2.Err)
	assert.NotEqual(t, res.Handle.ProtoID, res2.Handle.ProtoID)
}
