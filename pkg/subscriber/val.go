package subscriber

import (
	"runtime"

	"github.com/valuemesh/subscriber/internal/registry"
	"github.com/valuemesh/subscriber/internal/wire"
)

// Val is a plain, user-controlled-lifetime subscription handle. Its
// lifetime is explicit: call Close when done. A forgotten Close is
// still caught by a runtime cleanup hook — the closest Go analogue to
// the original's Drop-triggered unsubscribe, since Go has no
// destructors.
type Val struct {
	reg    *registry.Registry
	handle *registry.Handle
	path   wire.Path
	closed bool
}

func newVal(reg *registry.Registry, h *registry.Handle, path wire.Path) *Val {
	v := &Val{reg: reg, handle: h, path: path}
	runtime.AddCleanup(v, func(h *registry.Handle) {
		if h.Alive.get() {
			reg.Unsubscribe(path, h)
		}
	}, h)
	return v
}

// ID returns the subscriber-local identifier for this subscription.
func (v *Val) ID() wire.SubID { return v.handle.SubID }

// Path returns the subscribed path.
func (v *Val) Path() wire.Path { return v.path }

// Close unsubscribes. Calling Close more than once is a no-op.
func (v *Val) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.reg.Unsubscribe(v.path, v.handle)
}

// Updates attaches ch to this subscription's live update stream. If
// beginWithLast is set, the current value (if known) is delivered
// before any subsequent update.
func (v *Val) Updates(beginWithLast bool, ch chan *Batch) {
	conn, ok := v.reg.ConnForAddr(v.handle.Addr)
	if !ok {
		return
	}
	conn.Stream(v.handle.ProtoID, wire.NewChanID(), ch, beginWithLast)
}

// Last blocks for the publisher's most recently observed value.
func (v *Val) Last() (wire.Value, bool) {
	conn, ok := v.reg.ConnForAddr(v.handle.Addr)
	if !ok {
		return wire.Value{}, false
	}
	reply := make(chan wire.Value, 1)
	conn.Last(v.handle.ProtoID, reply)
	val, ok := <-reply
	return val, ok
}
