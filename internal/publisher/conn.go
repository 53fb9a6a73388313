// Package publisher implements the connection actor: one goroutine and
// its private state per publisher address, reachable only through a
// command inbox, so no map inside a Conn is ever touched from two
// goroutines at once.
package publisher

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/valuemesh/subscriber/internal/auth"
	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/channel"
	"github.com/valuemesh/subscriber/internal/wire"
)

// Tunables from the protocol's external interface.
const (
	Period             = 10 * time.Second
	FlushTimeout       = time.Second
	MaxInFlightBatches = 10
	maxIdleTicks       = 2
)

// SubscribeResult is delivered back to the registry once a publisher
// answers a subscribe request, or the connection dies first.
type SubscribeResult struct {
	ProtoID wire.ProtoID
	Current wire.Value
	Err     error
}

type pendingSub struct {
	subID   wire.SubID
	path    wire.Path
	replyCh chan SubscribeResult
	deadline time.Time
}

type subEntry struct {
	path wire.Path
	subID wire.SubID
	last  wire.Value
	streams []streamEntry
}

type streamEntry struct {
	chanID wire.ChanID
	ch     chan *batchpool.Batch
}

// Conn is one publisher connection actor.
type Conn struct {
	Addr string

	rd  *channel.ReadHalf
	wr  *channel.WriteHalf
	ch  *channel.Channel

	inbox    chan conMsg
	decoded  chan decodedBatch
	returnCh chan *batchpool.Batch

	logger *log.Logger

	pending map[wire.Path]*pendingSub
	subs    map[wire.ProtoID]*subEntry
	byChan  map[chan *batchpool.Batch]wire.ChanID

	idleTicks int
	done      chan struct{}

	// onSubDied reports a subscription's death back to the registry: a
	// connection-initiated Unsubscribed reply, or every still-live sub
	// when the connection itself tears down. Never called for a
	// caller-initiated Unsubscribe (the registry already knows about
	// that one).
	onSubDied func(subID wire.SubID, path wire.Path)
}

type decodedBatch struct {
	frames      [][]byte
	onlyUpdates bool
}

// Dial connects to addr, performs the handshake, and spawns the actor's
// goroutines. It blocks until the handshake completes or fails.
// onSubDied, if non-nil, is called once per subscription whenever the
// publisher itself reports it Unsubscribed, or for every subscription
// still open when the connection dies; it is never called for a
// caller-initiated Unsubscribe.
func Dial(ctx context.Context, addr string, authCtx auth.Context, logger *log.Logger, onSubDied func(subID wire.SubID, path wire.Path)) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, Period)
	defer cancel()
	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("publisher: dial %s: %w", addr, err)
	}

	ch := channel.New(nc)
	if err := hello(ch, authCtx); err != nil {
		ch.Close()
		return nil, fmt.Errorf("publisher: handshake with %s: %w", addr, err)
	}
	if authCtx != nil {
		ch.BindAuth(authCtx)
	}

	rd, wr := ch.Split()
	c := &Conn{
		Addr:      addr,
		rd:        rd,
		wr:        wr,
		ch:        ch,
		inbox:     make(chan conMsg, 64),
		decoded:   make(chan decodedBatch, MaxInFlightBatches),
		returnCh:  make(chan *batchpool.Batch, MaxInFlightBatches),
		logger:    logger,
		pending:   make(map[wire.Path]*pendingSub),
		subs:      make(map[wire.ProtoID]*subEntry),
		byChan:    make(map[chan *batchpool.Batch]wire.ChanID),
		done:      make(chan struct{}),
		onSubDied: onSubDied,
	}

	go c.decodeLoop()
	go c.run()
	return c, nil
}

func hello(ch *channel.Channel, authCtx auth.Context) error {
	if authCtx == nil {
		authCtx = auth.AnonymousContext{}
	}
	tok, _, err := authCtx.Step(nil)
	if err != nil {
		return err
	}
	kind := wire.HelloAnonymousKind
	_, isAnon := authCtx.(auth.AnonymousContext)
	if !isAnon {
		kind = wire.HelloTokenKind
	}
	if err := ch.QueueValue(wire.Hello{Kind: kind, Token: tok}); err != nil {
		return err
	}
	if err := ch.Flush(context.Background()); err != nil {
		return err
	}

	var reply wire.Hello
	if err := ch.DecodeInto(&reply); err != nil {
		return err
	}
	if reply.Kind != kind {
		return fmt.Errorf("%w: publisher answered with a different hello kind", wire.ErrAuthFailed)
	}
	if !isAnon {
		_, more, err := authCtx.Step(reply.Token)
		if err != nil {
			return fmt.Errorf("%w: %v", wire.ErrAuthFailed, err)
		}
		// A correctly behaving peer sends exactly one token back; a
		// context that still wants another round after consuming it
		// means the peer misbehaved.
		if more {
			return fmt.Errorf("%w: unexpected extra handshake step", wire.ErrAuthFailed)
		}
	}
	return nil
}

// Subscribe sends a Subscribe request and returns a channel that
// receives exactly one SubscribeResult.
func (c *Conn) Subscribe(subID wire.SubID, path wire.Path, timeout time.Duration) <-chan SubscribeResult {
	reply := make(chan SubscribeResult, 1)
	select {
	case c.inbox <- subscribeMsg{subID: subID, path: path, reply: reply, timeout: timeout}:
	case <-c.done:
		reply <- SubscribeResult{Err: wire.ErrConnectionDied}
	}
	return reply
}

// Unsubscribe tells the actor to stop tracking protoID and notify the
// publisher.
func (c *Conn) Unsubscribe(protoID wire.ProtoID) {
	select {
	case c.inbox <- unsubscribeMsg{protoID: protoID}:
	case <-c.done:
	}
}

// Stream attaches ch to the live update stream for protoID. If
// beginWithLast is set and a last value is known, it is sent
// immediately before any subsequent update.
func (c *Conn) Stream(protoID wire.ProtoID, chanID wire.ChanID, ch chan *batchpool.Batch, beginWithLast bool) {
	select {
	case c.inbox <- streamMsg{protoID: protoID, chanID: chanID, ch: ch, beginWithLast: beginWithLast}:
	case <-c.done:
	}
}

// Last requests the most recently observed value for protoID. A
// request for an unknown protoID is a silent no-op, matching the
// original's teardown-tolerant behavior.
func (c *Conn) Last(protoID wire.ProtoID, reply chan<- wire.Value) {
	select {
	case c.inbox <- lastMsg{protoID: protoID, reply: reply}:
	case <-c.done:
	}
}

// Done reports when the actor has exited, at which point every pending
// request has already been completed with an error.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close tears down the underlying connection; the run loop observes the
// resulting read error and exits on its own.
func (c *Conn) Close() error {
	return c.ch.Close()
}
