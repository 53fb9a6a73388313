package publisher

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuemesh/subscriber/internal/auth"
	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/channel"
	"github.com/valuemesh/subscriber/internal/wire"
)

// fakePublisher accepts one connection, performs the anonymous
// handshake, and hands the resulting Channel to the test for scripted
// replies.
func fakePublisher(t *testing.T) (addr string, accept func() *channel.Channel, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	connCh := make(chan *channel.Channel, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		ch := channel.New(nc)
		var hello wire.Hello
		if err := ch.DecodeInto(&hello); err != nil {
			return
		}
		_ = ch.QueueValue(wire.Hello{Kind: wire.HelloAnonymousKind})
		_ = ch.Flush(context.Background())
		connCh <- ch
	}()

	return ln.Addr().String(),
		func() *channel.Channel { return <-connCh },
		func() { ln.Close() }
}

func dial(t *testing.T, addr string) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), addr, auth.AnonymousContext{}, nil, nil)
	require.NoError(t, err)
	return conn
}

func dialWithDeathReports(t *testing.T, addr string) (*Conn, <-chan diedReport) {
	t.Helper()
	died := make(chan diedReport, 8)
	conn, err := Dial(context.Background(), addr, auth.AnonymousContext{}, nil, func(subID wire.SubID, path wire.Path) {
		died <- diedReport{subID: subID, path: path}
	})
	require.NoError(t, err)
	return conn, died
}

type diedReport struct {
	subID wire.SubID
	path  wire.Path
}

func TestSubscribeCompletesOnSubscribedReply(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	peer := accept()

	replyCh := conn.Subscribe(wire.NewSubID(), "/a/b", time.Second)

	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))
	assert.Equal(t, wire.ToSubscribeKind, to.Kind)
	assert.Equal(t, wire.Path("/a/b"), to.Sub.Path)

	require.NoError(t, peer.QueueValue(wire.From{
		Kind: wire.FromSubscribedKind,
		Subscribed: wire.FromSubscribed{
			SubID:   to.Sub.ID,
			ProtoID: 7,
			Current: wire.Int64(42),
		},
	}))
	require.NoError(t, peer.Flush(context.Background()))

	select {
	case res := <-replyCh:
		require.NoError(t, res.Err)
		assert.Equal(t, wire.ProtoID(7), res.ProtoID)
		i, ok := res.Current.Int64()
		require.True(t, ok)
		assert.Equal(t, int64(42), i)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe result never arrived")
	}
}

func TestSubscribeFailsOnDenied(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	peer := accept()

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, "/secret", time.Second)

	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))

	require.NoError(t, peer.QueueValue(wire.From{
		Kind:   wire.FromDeniedKind,
		Denied: wire.FromDenied{SubID: to.Sub.ID},
	}))
	require.NoError(t, peer.Flush(context.Background()))

	select {
	case res := <-replyCh:
		assert.ErrorIs(t, res.Err, wire.ErrAccessDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe result never arrived")
	}
}

func TestFastPathCoalescesUpdatesPerChannel(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	peer := accept()

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, "/p", time.Second)
	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))
	require.NoError(t, peer.QueueValue(wire.From{
		Kind:       wire.FromSubscribedKind,
		Subscribed: wire.FromSubscribed{SubID: to.Sub.ID, ProtoID: 1, Current: wire.Int64(0)},
	}))
	require.NoError(t, peer.Flush(context.Background()))
	res := <-replyCh
	require.NoError(t, res.Err)

	updates := make(chan *batchpool.Batch, 4)
	conn.Stream(res.ProtoID, wire.NewChanID(), updates, false)

	require.NoError(t, peer.QueueValue(wire.From{Kind: wire.FromUpdateKind, Update: wire.FromUpdate{ProtoID: 1, Value: wire.Int64(1)}}))
	require.NoError(t, peer.QueueValue(wire.From{Kind: wire.FromUpdateKind, Update: wire.FromUpdate{ProtoID: 1, Value: wire.Int64(2)}}))
	require.NoError(t, peer.Flush(context.Background()))

	select {
	case b := <-updates:
		// The fast decode-loop path classifies a frame batch as
		// update-only and coalesces every update destined for the same
		// channel into one Batch, so a single receive may carry both.
		assert.GreaterOrEqual(t, len(b.Updates), 1)
		b.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestPublisherInitiatedUnsubscribedReportsDeath(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn, died := dialWithDeathReports(t, addr)
	defer conn.Close()

	peer := accept()

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, "/p", time.Second)
	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))
	require.NoError(t, peer.QueueValue(wire.From{
		Kind:       wire.FromSubscribedKind,
		Subscribed: wire.FromSubscribed{SubID: to.Sub.ID, ProtoID: 9, Current: wire.Int64(0)},
	}))
	require.NoError(t, peer.Flush(context.Background()))
	res := <-replyCh
	require.NoError(t, res.Err)

	require.NoError(t, peer.QueueValue(wire.From{
		Kind:         wire.FromUnsubscribedKind,
		Unsubscribed: wire.FromUnsubscribed{ProtoID: res.ProtoID},
	}))
	require.NoError(t, peer.Flush(context.Background()))

	select {
	case r := <-died:
		assert.Equal(t, subID, r.subID)
		assert.Equal(t, wire.Path("/p"), r.path)
	case <-time.After(2 * time.Second):
		t.Fatal("onSubDied never called for a publisher-initiated Unsubscribed")
	}
}

func TestConnectionTeardownReportsEveryLiveSub(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn, died := dialWithDeathReports(t, addr)

	peer := accept()

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, "/q", time.Second)
	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))
	require.NoError(t, peer.QueueValue(wire.From{
		Kind:       wire.FromSubscribedKind,
		Subscribed: wire.FromSubscribed{SubID: to.Sub.ID, ProtoID: 3, Current: wire.Int64(0)},
	}))
	require.NoError(t, peer.Flush(context.Background()))
	res := <-replyCh
	require.NoError(t, res.Err)

	conn.Close() // the actor observes the read error and tears down on its own

	select {
	case r := <-died:
		assert.Equal(t, subID, r.subID)
		assert.Equal(t, wire.Path("/q"), r.path)
	case <-time.After(2 * time.Second):
		t.Fatal("onSubDied never called for a still-live sub on connection teardown")
	}
}

func TestSilentPeerNotTornDownBeforeIdleBudget(t *testing.T) {
	addr, accept, stop := fakePublisher(t)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	peer := accept()

	subID := wire.NewSubID()
	replyCh := conn.Subscribe(subID, "/p", time.Second)
	var to wire.To
	require.NoError(t, peer.DecodeInto(&to))
	require.NoError(t, peer.QueueValue(wire.From{
		Kind:       wire.FromSubscribedKind,
		Subscribed: wire.FromSubscribed{SubID: to.Sub.ID, ProtoID: 1},
	}))
	require.NoError(t, peer.Flush(context.Background()))
	res := <-replyCh
	require.NoError(t, res.Err)

	// The peer goes silent; the actor's idle-tick ticker eventually tears
	// the connection down on its own. We don't drive real 10s ticks here
	// (Period is a package constant, not overridden per-test), so this
	// only asserts Done() is still open shortly after the peer goes
	// silent; hung-publisher detection itself is not exercised here.
	select {
	case <-conn.Done():
		t.Fatal("connection closed before any idle tick could have elapsed")
	case <-time.After(50 * time.Millisecond):
	}
}
