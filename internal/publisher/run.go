package publisher

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/wire"
)

func (c *Conn) decodeLoop() {
	defer close(c.decoded)
	for {
		var frames [][]byte
		if err := c.rd.ReceiveBatch(&frames); err != nil {
			return
		}
		onlyUpdates := true
		for _, f := range frames {
			var msg wire.From
			if err := decodeFrom(f, &msg); err != nil || msg.Kind != wire.FromUpdateKind {
				onlyUpdates = false
			}
		}
		select {
		case c.decoded <- decodedBatch{frames: frames, onlyUpdates: onlyUpdates}:
		case <-c.done:
			return
		}
	}
}

// run is the actor's single goroutine: every map on Conn is touched
// only from here.
func (c *Conn) run() {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()
	defer c.teardown()

	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				return
			}
			c.handleCommand(msg)

		case batch, ok := <-c.decoded:
			if !ok {
				return
			}
			c.idleTicks = 0
			c.handleBatch(batch)

		case <-ticker.C:
			c.idleTicks++
			if c.idleTicks >= maxIdleTicks && len(c.pending) == 0 && len(c.subs) == 0 {
				return
			}
			if c.idleTicks >= maxIdleTicks {
				c.failAllPending(wire.ErrHungPublisher)
				return
			}
			now := time.Now()
			for path, p := range c.pending {
				if now.After(p.deadline) {
					delete(c.pending, path)
					p.replyCh <- SubscribeResult{Err: wire.ErrTimedOut}
				}
			}
			c.ch.FlushTimeout(FlushTimeout)

		case <-c.returnCh:
			// Nothing sends on returnCh: released batches go straight
			// back to the process-global pool, so this case never fires.
		}
	}
}

func (c *Conn) handleCommand(msg conMsg) {
	switch m := msg.(type) {
	case subscribeMsg:
		c.startSubscribe(m)
	case unsubscribeMsg:
		c.doUnsubscribe(m.protoID)
	case streamMsg:
		c.attachStream(m)
	case lastMsg:
		if e, ok := c.subs[m.protoID]; ok {
			m.reply <- e.last
		}
		// An unknown protoID (already torn down) is a silent no-op.
	}
}

func (c *Conn) startSubscribe(m subscribeMsg) {
	deadline := time.Now().Add(m.timeout)
	c.pending[m.path] = &pendingSub{subID: m.subID, path: m.path, replyCh: m.reply, deadline: deadline}
	c.ch.QueueValue(wire.To{Kind: wire.ToSubscribeKind, Sub: wire.ToSubscribe{ID: m.subID, Path: m.path}})
	if timedOut, err := c.ch.FlushTimeout(FlushTimeout); err != nil || timedOut {
		delete(c.pending, m.path)
		m.reply <- SubscribeResult{Err: wire.ErrConnectionDied}
	}
}

func (c *Conn) doUnsubscribe(protoID wire.ProtoID) {
	if _, ok := c.subs[protoID]; !ok {
		return
	}
	delete(c.subs, protoID)
	c.ch.QueueValue(wire.To{Kind: wire.ToUnsubscribeKind, Unsub: wire.ToUnsubscribe{ID: protoID}})
	c.ch.FlushTimeout(FlushTimeout)
}

func (c *Conn) attachStream(m streamMsg) {
	e, ok := c.subs[m.protoID]
	if !ok {
		return
	}
	e.streams = append(e.streams, streamEntry{chanID: m.chanID, ch: m.ch})
	c.byChan[m.ch] = m.chanID
	if m.beginWithLast && !e.last.IsNull() {
		b := batchpool.Get()
		b.Updates = append(b.Updates, batchpool.Update{SubID: e.subID, Value: e.last})
		select {
		case m.ch <- b:
		default:
			b.Release()
		}
	}
}

func (c *Conn) handleBatch(db decodedBatch) {
	if db.onlyUpdates {
		c.processUpdatesBatch(db.frames)
	} else {
		c.processBatch(db.frames)
	}
}

// processUpdatesBatch is the fast path: every frame is an Update,
// coalesced per destination channel into a single batchpool.Batch so a
// slow consumer only pays one channel send per burst.
func (c *Conn) processUpdatesBatch(frames [][]byte) {
	perChan := make(map[chan *batchpool.Batch]*batchpool.Batch)
	for _, f := range frames {
		var msg wire.From
		if err := decodeFrom(f, &msg); err != nil {
			continue
		}
		e, ok := c.subs[msg.Update.ProtoID]
		if !ok {
			continue
		}
		e.last = msg.Update.Value
		for _, s := range e.streams {
			b, ok := perChan[s.ch]
			if !ok {
				b = batchpool.Get()
				perChan[s.ch] = b
			}
			b.Updates = append(b.Updates, batchpool.Update{SubID: e.subID, Value: msg.Update.Value})
		}
	}
	for ch, b := range perChan {
		select {
		case ch <- b:
		default:
			b.Release()
		}
	}
}

// processBatch is the slow path for a batch mixing Update with
// Subscribed/NoSuchValue/Denied/Unsubscribed/Heartbeat, handled one
// message at a time against pending/subscription state.
func (c *Conn) processBatch(frames [][]byte) {
	for _, f := range frames {
		var msg wire.From
		if err := decodeFrom(f, &msg); err != nil {
			continue
		}
		switch msg.Kind {
		case wire.FromUpdateKind:
			if e, ok := c.subs[msg.Update.ProtoID]; ok {
				e.last = msg.Update.Value
				c.fanOutOne(e, msg.Update.Value)
			}
		case wire.FromSubscribedKind:
			c.completeSubscribe(msg.Subscribed)
		case wire.FromNoSuchValueKind:
			c.failSubscribe(msg.NoSuchValue.SubID, wire.ErrPathNotFound)
		case wire.FromDeniedKind:
			c.failSubscribe(msg.Denied.SubID, wire.ErrAccessDenied)
		case wire.FromUnsubscribedKind:
			if e, ok := c.subs[msg.Unsubscribed.ProtoID]; ok {
				delete(c.subs, msg.Unsubscribed.ProtoID)
				if c.onSubDied != nil {
					c.onSubDied(e.subID, e.path)
				}
			}
		case wire.FromHeartbeatKind:
			// liveness only; idleTicks already reset by the caller.
		}
	}
}

func (c *Conn) fanOutOne(e *subEntry, v wire.Value) {
	for _, s := range e.streams {
		b := batchpool.Get()
		b.Updates = append(b.Updates, batchpool.Update{SubID: e.subID, Value: v})
		select {
		case s.ch <- b:
		default:
			b.Release()
		}
	}
}

func (c *Conn) completeSubscribe(s wire.FromSubscribed) {
	for path, p := range c.pending {
		if p.subID != s.SubID {
			continue
		}
		delete(c.pending, path)
		c.subs[s.ProtoID] = &subEntry{path: path, subID: s.SubID, last: s.Current}
		p.replyCh <- SubscribeResult{ProtoID: s.ProtoID, Current: s.Current}
		return
	}
}

func (c *Conn) failSubscribe(subID wire.SubID, err error) {
	for path, p := range c.pending {
		if p.subID != subID {
			continue
		}
		delete(c.pending, path)
		p.replyCh <- SubscribeResult{Err: err}
		return
	}
}

func (c *Conn) failAllPending(err error) {
	for path, p := range c.pending {
		delete(c.pending, path)
		p.replyCh <- SubscribeResult{Err: err}
	}
}

func (c *Conn) teardown() {
	c.failAllPending(wire.ErrConnectionDied)
	if c.onSubDied != nil {
		for _, e := range c.subs {
			c.onSubDied(e.subID, e.path)
		}
	}
	c.ch.Close()
	close(c.done)
}

func decodeFrom(frame []byte, out *wire.From) error {
	return msgpack.Unmarshal(frame, out)
}
