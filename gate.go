package main

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// concurrencyGate bounds simultaneous heavy jobs. Metadata lookups are not
// gated; only downloads and materialize jobs go through it.
type concurrencyGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newConcurrencyGate(capacity int, timeout time.Duration) *concurrencyGate {
	return &concurrencyGate{
		sem:     semaphore.NewWeighted(int64(capacity)),
		timeout: timeout,
	}
}

// acquire blocks until a slot frees or the timeout elapses. The returned
// release function is safe to call more than once and from any exit path;
// only the first call returns the slot.
func (g *concurrencyGate) acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		return nil, &AdmissionError{Detail: "download capacity saturated, retry later"}
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}
