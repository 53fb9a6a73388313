package registry

import "github.com/valuemesh/subscriber/internal/wire"

// DurableHandle returns the current connection binding for subID, if
// the durable subscription is presently alive.
func (r *Registry) DurableHandle(subID wire.SubID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.durableHandle[subID]
	return h, ok
}
