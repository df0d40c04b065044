// Package lane implements the Write Lane: a two-level concurrency
// serializer that admits at most GLOBAL_CONCURRENCY writes system-wide
// while guaranteeing at most one in-flight write per record key (a memory
// id, or a path for alias/delete operations). Acquisition is FIFO per
// record to prevent starvation. Modeled on the teacher's single-writer FSM
// discipline (pkg/manager/fsm.go: one Apply in flight at a time) but
// generalized from "one writer total" to "one writer per record, bounded
// admission overall".
package lane

import (
	"context"
	"sync"
	"time"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/metrics"
)

// Lane is the write concurrency serializer.
type Lane struct {
	global      chan struct{}
	waitTimeout time.Duration

	mu      sync.Mutex
	records map[string]*recordLock
}

// New builds a Lane admitting globalConcurrency writes at once, each
// waiting at most waitTimeout for both tokens combined.
func New(globalConcurrency int, waitTimeout time.Duration) *Lane {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	return &Lane{
		global:      make(chan struct{}, globalConcurrency),
		waitTimeout: waitTimeout,
		records:     make(map[string]*recordLock),
	}
}

// recordLock is a FIFO mutex for one record key, implemented with an
// explicit waiter queue so acquisition order matches arrival order (plain
// sync.Mutex makes no such guarantee under contention).
type recordLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

func (l *Lane) lockFor(key string) *recordLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.records[key]
	if !ok {
		rl = &recordLock{}
		l.records[key] = rl
	}
	return rl
}

// acquire blocks until the record's FIFO token is granted or ctx is
// done, returning whether it was acquired.
func (rl *recordLock) acquire(ctx context.Context) bool {
	rl.mu.Lock()
	if !rl.locked {
		rl.locked = true
		rl.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	rl.waiters = append(rl.waiters, ch)
	rl.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		rl.mu.Lock()
		for i, w := range rl.waiters {
			if w == ch {
				rl.waiters = append(rl.waiters[:i], rl.waiters[i+1:]...)
				rl.mu.Unlock()
				return false
			}
		}
		rl.mu.Unlock()
		// ch was already closed: ownership was handed here, so pass it on.
		rl.release()
		return false
	}
}

func (rl *recordLock) release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.waiters) > 0 {
		next := rl.waiters[0]
		rl.waiters = rl.waiters[1:]
		close(next) // locked stays true: ownership passes directly to next waiter
		return
	}
	rl.locked = false
}

// Release is returned by Acquire; callers must call it exactly once,
// regardless of whether the wrapped operation succeeded.
type Release func()

// Acquire admits one write for recordKey, blocking for up to the lane's
// waitTimeout across both the global and per-record tokens combined. On
// timeout it returns errs.LaneTimeout and acquires nothing.
func (l *Lane) Acquire(ctx context.Context, recordKey string) (Release, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	select {
	case l.global <- struct{}{}:
	case <-ctx.Done():
		metrics.LaneTimeoutsTotal.Inc()
		metrics.LaneWaitDuration.Observe(time.Since(start).Seconds())
		return nil, errs.New(errs.LaneTimeout, "timed out waiting for global write admission")
	}

	rl := l.lockFor(recordKey)
	if !rl.acquire(ctx) {
		<-l.global // release the global token we already hold before giving up
		metrics.LaneTimeoutsTotal.Inc()
		metrics.LaneWaitDuration.Observe(time.Since(start).Seconds())
		return nil, errs.New(errs.LaneTimeout, "timed out waiting for per-record write admission")
	}

	metrics.LaneWaitDuration.Observe(time.Since(start).Seconds())
	metrics.LaneInFlight.Inc()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		rl.release()
		<-l.global
		metrics.LaneInFlight.Dec()
	}, nil
}

// Run acquires the lane for recordKey, runs fn, and always releases
// afterward, propagating fn's error (or a lane_timeout if admission
// itself failed).
func (l *Lane) Run(ctx context.Context, recordKey string, fn func() error) error {
	release, err := l.Acquire(ctx, recordKey)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
