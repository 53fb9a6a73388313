package wire

import "sync/atomic"

// SubID is a process-unique identifier minted by the subscriber side for
// every subscription attempt, plain or durable. It is never reused for
// the life of the process.
type SubID uint64

// ChanID is a process-unique identifier minted for every distinct update
// channel registered against a connection, used to coalesce fan-out.
type ChanID uint64

// ProtoID is assigned by the remote publisher during a successful
// Subscribed reply and is unique only within the lifetime of one
// connection.
type ProtoID uint64

// ResolverID identifies which resolver instance produced a Resolved
// reply, used to detect resolver failover.
type ResolverID uint64

var (
	nextSubID atomic.Uint64
	nextChanID atomic.Uint64
)

// NewSubID mints a fresh, process-unique SubID.
func NewSubID() SubID {
	return SubID(nextSubID.Add(1))
}

// NewChanID mints a fresh, process-unique ChanID.
func NewChanID() ChanID {
	return ChanID(nextChanID.Add(1))
}
