package engine

import (
	"context"
	"fmt"
)

// Limiter bounds the number of concurrently running jobs to a fixed capacity.
//
// Acquire blocks cooperatively while at capacity; there is no unbounded
// in-memory queue beyond the discovered job list itself. Two independent
// Limiter instances compose for nested scheduling (K1 samples in parallel,
// each running K2 sub-jobs): a holder of an outer slot only ever waits on the
// inner limiter, never the reverse, so two-level nesting cannot deadlock.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a limiter with capacity k (k >= 1).
func NewLimiter(k int) (*Limiter, error) {
	if k < 1 {
		return nil, fmt.Errorf("limiter capacity must be >= 1, got %d", k)
	}
	return &Limiter{slots: make(chan struct{}, k)}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot previously obtained with Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		panic("limiter: release without acquire")
	}
}

// Cap returns the configured capacity.
func (l *Limiter) Cap() int { return cap(l.slots) }
