// Package durable implements the resubscribe scheduler: a single
// goroutine that wakes whenever a durable subscription dies, waits out
// a linear per-subscription backoff, and retries the whole dead batch
// together so one flaky publisher doesn't generate a retry storm.
package durable

import (
	"context"
	"log"
	"time"

	"github.com/valuemesh/subscriber/internal/registry"
)

// baseTimeout is added to the longest backoff in a batch to size that
// batch's subscribe timeout, so a subscription that has failed many
// times gets proportionally longer to succeed before being bounced
// back to the dead set again.
const baseTimeout = 10 * time.Second

// Scheduler drives a Registry's durable resubscribe loop.
type Scheduler struct {
	reg    *registry.Registry
	logger *log.Logger
	done   chan struct{}
}

// New builds a Scheduler bound to reg. Call Run in its own goroutine.
func New(reg *registry.Registry, logger *log.Logger) *Scheduler {
	return &Scheduler{reg: reg, logger: logger, done: make(chan struct{})}
}

// Run blocks until ctx is cancelled, retrying dead durable subscriptions
// as their backoff windows elapse.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.resubOnce(ctx)
		s.rearm(timer)

		select {
		case <-ctx.Done():
			return
		case <-s.reg.ResubWake():
		case <-timer.C:
		}
	}
}

// Done reports when Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) resubOnce(ctx context.Context) {
	batch := s.reg.NextRetryBatch(time.Now())
	if len(batch) == 0 {
		return
	}

	maxTries := 0
	for _, d := range batch {
		if d.Tries > maxTries {
			maxTries = d.Tries
		}
	}
	timeout := baseTimeout + time.Duration(maxTries)*time.Second

	for _, d := range batch {
		if err := s.reg.ResubscribeOne(ctx, d, timeout); err != nil && s.logger != nil {
			s.logger.Printf("durable: resubscribe %s failed: %v", d.Path, err)
		}
	}
}

func (s *Scheduler) rearm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(time.Second)
}
