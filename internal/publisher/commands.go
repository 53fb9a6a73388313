package publisher

import (
	"time"

	"github.com/valuemesh/subscriber/internal/batchpool"
	"github.com/valuemesh/subscriber/internal/wire"
)

// conMsg is the closed set of commands the registry and durable
// scheduler send into a Conn's inbox.
type conMsg interface{ isConMsg() }

type subscribeMsg struct {
	subID   wire.SubID
	path    wire.Path
	reply   chan SubscribeResult
	timeout time.Duration
}

type unsubscribeMsg struct {
	protoID wire.ProtoID
}

type streamMsg struct {
	protoID       wire.ProtoID
	chanID        wire.ChanID
	ch            chan *batchpool.Batch
	beginWithLast bool
}

type lastMsg struct {
	protoID wire.ProtoID
	reply   chan<- wire.Value
}

func (subscribeMsg) isConMsg()   {}
func (unsubscribeMsg) isConMsg() {}
func (streamMsg) isConMsg()      {}
func (lastMsg) isConMsg()        {}
