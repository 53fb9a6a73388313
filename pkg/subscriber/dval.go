package subscriber

import (
	"github.com/valuemesh/subscriber/internal/registry"
	"github.com/valuemesh/subscriber/internal/wire"
)

// DVState reports a durable subscription's current connectivity.
type DVState int

const (
	DVDead DVState = iota
	DVAlive
)

// StateEvent mirrors registry.StateEvent in the public API.
type StateEvent = registry.StateEvent

// DVal is a durable, self-healing subscription handle: the subscriber
// keeps it alive across publisher failures and resolver changes using
// the registry's resubscribe scheduler, with no action required from
// the caller beyond registering update/state listeners.
type DVal struct {
	reg   *registry.Registry
	subID wire.SubID
	path  wire.Path
}

// ID returns the subscriber-local identifier for this subscription.
func (d *DVal) ID() wire.SubID { return d.subID }

// Path returns the subscribed path.
func (d *DVal) Path() wire.Path { return d.path }

// State reports whether the durable subscription currently has a live
// connection.
func (d *DVal) State() DVState {
	if _, ok := d.reg.DurableHandle(d.subID); ok {
		return DVAlive
	}
	return DVDead
}

// Updates attaches ch as a destination for this subscription's update
// stream. The attachment survives every future reconnect; if the
// subscription is presently alive, it also takes effect immediately.
func (d *DVal) Updates(beginWithLast bool, ch chan *Batch) {
	live, addr, protoID := d.reg.AddDurableStream(d.subID, registry.DurableStream{
		ChanID:        wire.NewChanID(),
		Ch:            ch,
		BeginWithLast: beginWithLast,
	})
	if !live {
		return
	}
	conn, ok := d.reg.ConnForAddr(addr)
	if ok {
		conn.Stream(protoID, wire.NewChanID(), ch, beginWithLast)
	}
}

// StateUpdates attaches ch to receive every future dead/alive
// transition. If includeCurrent is set, the current state is delivered
// first.
func (d *DVal) StateUpdates(includeCurrent bool, ch chan<- StateEvent) {
	if includeCurrent {
		alive := d.State() == DVAlive
		select {
		case ch <- StateEvent{SubID: d.subID, Alive: alive}:
		default:
		}
	}
	d.reg.AddDurableStateListener(d.subID, ch)
}

// Last blocks for the publisher's most recently observed value, or
// reports false if the subscription is currently dead.
func (d *DVal) Last() (wire.Value, bool) {
	h, ok := d.reg.DurableHandle(d.subID)
	if !ok {
		return wire.Value{}, false
	}
	conn, ok := d.reg.ConnForAddr(h.Addr)
	if !ok {
		return wire.Value{}, false
	}
	reply := make(chan wire.Value, 1)
	conn.Last(h.ProtoID, reply)
	v, ok := <-reply
	return v, ok
}
