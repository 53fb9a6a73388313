package channel

import (
	"context"
	"time"
)

// ReadHalf is the read-only side of a split Channel, safe to drive from
// a dedicated decode goroutine while a WriteHalf is driven concurrently
// from another.
type ReadHalf struct {
	c *Channel
}

// WriteHalf is the write-only side of a split Channel.
type WriteHalf struct {
	c *Channel
}

// Split divides c into read and write halves that both wrap c itself, so
// they share its closed flag and auth binding, letting a connection actor
// run its decode loop on one goroutine and its command loop on another.
func (c *Channel) Split() (*ReadHalf, *WriteHalf) {
	return &ReadHalf{c: c}, &WriteHalf{c: c}
}

func (r *ReadHalf) ReceiveBatch(out *[][]byte) error { return r.c.ReceiveBatch(out) }
func (r *ReadHalf) ReceiveFrame() ([]byte, error)    { return r.c.ReceiveFrame() }
func (r *ReadHalf) DecodeInto(v interface{}) error   { return r.c.DecodeInto(v) }
func (r *ReadHalf) Close() error                     { return r.c.Close() }

func (w *WriteHalf) QueueFrame(payload []byte) error        { return w.c.QueueFrame(payload) }
func (w *WriteHalf) QueueValue(v interface{}) error          { return w.c.QueueValue(v) }
func (w *WriteHalf) BytesQueued() int                        { return w.c.BytesQueued() }
func (w *WriteHalf) Flush(ctx context.Context) error          { return w.c.Flush(ctx) }
func (w *WriteHalf) FlushTimeout(d time.Duration) (bool, error) { return w.c.FlushTimeout(d) }
func (w *WriteHalf) Close() error                              { return w.c.Close() }
