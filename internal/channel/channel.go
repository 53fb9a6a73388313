// Package channel implements the length-prefixed framed transport that
// carries wire messages between a subscriber and a publisher (or, in raw
// form, any two msgpack-speaking endpoints). Every frame is a 4-byte
// big-endian length prefix followed by that many bytes of payload.
package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/valuemesh/subscriber/internal/auth"
)

const headerLen = 4

// ErrInvalidData is returned when a frame header claims an implausible
// length or the socket produces a short/garbled frame.
var ErrInvalidData = errors.New("channel: invalid data")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("channel: closed")

// Channel wraps a net.Conn with length-prefixed framing, batched
// outbound writes, and streaming inbound reads. A Channel is owned by
// exactly one goroutine at a time; callers needing concurrent
// read/write must use Split.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader

	outgoing net.Buffers
	headers  [][]byte // keeps each frame's header alive until flushed

	incoming bytes.Buffer

	auth   auth.Context
	closed bool
}

// New wraps conn in a Channel.
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}
}

// BindAuth installs ctx as the per-message wrap/unwrap transform. It
// takes effect starting with the next message queued or received;
// frames already in flight are unaffected.
func (c *Channel) BindAuth(ctx auth.Context) {
	c.auth = ctx
}

// QueueFrame appends a raw, already-encoded payload to the outbound
// batch without flushing. Payloads larger than the wire format can
// represent are rejected.
func (c *Channel) QueueFrame(payload []byte) error {
	if c.closed {
		return ErrClosed
	}
	if uint64(len(payload)) > 0xFFFFFFFF {
		return fmt.Errorf("channel: frame of %d bytes exceeds wire limit: %w", len(payload), ErrInvalidData)
	}
	if c.auth != nil {
		wrapped, err := c.auth.Wrap(payload)
		if err != nil {
			return fmt.Errorf("channel: auth wrap: %w", err)
		}
		payload = wrapped
	}
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	c.headers = append(c.headers, header)
	c.outgoing = append(c.outgoing, header, payload)
	return nil
}

// QueueValue msgpack-encodes v and queues it as a frame.
func (c *Channel) QueueValue(v interface{}) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("channel: encode: %w", err)
	}
	return c.QueueFrame(b)
}

// BytesQueued reports the number of outstanding bytes not yet flushed,
// used by callers deciding whether a flush is worth forcing.
func (c *Channel) BytesQueued() int {
	n := 0
	for _, b := range c.outgoing {
		n += len(b)
	}
	return n
}

// Flush writes every queued frame to the underlying connection. It
// blocks until the batch is fully written or ctx is done.
func (c *Channel) Flush(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if len(c.outgoing) == 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	for len(c.outgoing) > 0 {
		if _, err := c.outgoing.WriteTo(c.conn); err != nil {
			return fmt.Errorf("channel: write: %w", err)
		}
	}
	c.headers = nil
	return nil
}

// FlushTimeout flushes with a bounded deadline, distinguishing a timeout
// from any other failure.
func (c *Channel) FlushTimeout(d time.Duration) (timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err = c.Flush(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return true, nil
	}
	return false, err
}

// ReceiveBatch blocks until at least one complete frame is available,
// then appends every further complete frame already buffered to out.
// Partial trailing bytes are retained for the next call.
func (c *Channel) ReceiveBatch(out *[][]byte) error {
	if c.closed {
		return ErrClosed
	}
	first := true
	for {
		frame, ok, err := c.tryDecodeFrame()
		if err != nil {
			return err
		}
		if ok {
			*out = append(*out, frame)
			first = false
			continue
		}
		if !first {
			return nil
		}
		if err := c.fillBuffer(); err != nil {
			return err
		}
	}
}

// ReceiveFrame blocks until exactly one complete frame is available and
// returns it.
func (c *Channel) ReceiveFrame() ([]byte, error) {
	for {
		frame, ok, err := c.tryDecodeFrame()
		if err != nil {
			return nil, err
		}
		if ok {
			return frame, nil
		}
		if err := c.fillBuffer(); err != nil {
			return nil, err
		}
	}
}

// DecodeInto msgpack-decodes the next frame into v.
func (c *Channel) DecodeInto(v interface{}) error {
	frame, err := c.ReceiveFrame()
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("channel: decode: %w", err)
	}
	return nil
}

func (c *Channel) tryDecodeFrame() (frame []byte, ok bool, err error) {
	buf := c.incoming.Bytes()
	if len(buf) < headerLen {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint32(buf[:headerLen])
	if n > 64<<20 {
		return nil, false, fmt.Errorf("channel: frame length %d: %w", n, ErrInvalidData)
	}
	total := headerLen + int(n)
	if len(buf) < total {
		return nil, false, nil
	}
	payload := make([]byte, n)
	copy(payload, buf[headerLen:total])
	c.incoming.Next(total)
	if c.auth != nil {
		payload, err = c.auth.Unwrap(payload)
		if err != nil {
			return nil, false, fmt.Errorf("channel: auth unwrap: %w", err)
		}
	}
	return payload, true, nil
}

func (c *Channel) fillBuffer() error {
	tmp := make([]byte, 32*1024)
	n, err := c.reader.Read(tmp)
	if n > 0 {
		c.incoming.Write(tmp[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("channel: %w: %v", ErrClosed, err)
		}
		return fmt.Errorf("channel: read: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	c.closed = true
	return c.conn.Close()
}

// LocalAddr and RemoteAddr expose the underlying connection's endpoints.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *Channel) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
