// Package batchpool recycles the update-vector buffers a publisher
// connection actor hands off to subscriber update channels, avoiding a
// fresh allocation on every coalesced batch of updates.
package batchpool

import (
	"sync"

	"github.com/valuemesh/subscriber/internal/wire"
)

// Update pairs a subscription identifier with the value it carried.
type Update struct {
	SubID wire.SubID
	Value wire.Value
}

// Batch is a reusable vector of updates. Callers receiving a Batch from
// a channel must call Release when finished with it so it can be
// recycled; forgetting to do so only costs an allocation next time, it
// is never unsafe.
type Batch struct {
	Updates []Update
}

const cap_ = 1000

var pool = struct {
	mu    sync.Mutex
	items []*Batch
}{}

// Get returns a Batch from the pool, or a freshly allocated one if the
// pool is empty.
func Get() *Batch {
	pool.mu.Lock()
	n := len(pool.items)
	if n == 0 {
		pool.mu.Unlock()
		return &Batch{}
	}
	b := pool.items[n-1]
	pool.items = pool.items[:n-1]
	pool.mu.Unlock()
	return b
}

// Release clears b and returns it to the pool, unless the pool is
// already at capacity, in which case b is left for the garbage
// collector.
func (b *Batch) Release() {
	b.Updates = b.Updates[:0]
	pool.mu.Lock()
	if len(pool.items) < cap_ {
		pool.items = append(pool.items, b)
	}
	pool.mu.Unlock()
}
