// Package deferred implements spec.md §4.E's deferred-dispatch path,
// guarded by what §5's lock order names deferred_dispatch_lock: a request
// whose ALLOC_PENDING step hits a transient out-of-space/out-of-entries
// error parks here instead of failing the caller, and is retried
// head-of-line once something frees room — the request parked longest
// gets the next attempt, and nothing behind it is even tried until it
// either succeeds or defers again.
//
// Grounded on blockguard.Guard's callback-based resume discipline: nothing
// here blocks a goroutine in a channel receive on the queue's own behalf, a
// parked attempt is just a continuation invoked later from Wake.
package deferred

import "sync"

// Queue is a FIFO of retry attempts. The zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	waiters []func() bool
	busy    bool
}

// Park appends attempt to the back of the queue. attempt is called again
// every time Wake fires, until it returns true (succeeded — pop it and let
// the next waiter try); it must not block.
func (q *Queue) Park(attempt func() bool) {
	q.mu.Lock()
	q.waiters = append(q.waiters, attempt)
	q.mu.Unlock()
}

// Wake retries the current head of the queue, if any and if it is not
// already mid-retry. A no-op on an empty queue. On success it cascades
// into the next waiter immediately, since whatever freed room for the
// head may have freed enough for more than one.
func (q *Queue) Wake() {
	q.mu.Lock()
	if q.busy || len(q.waiters) == 0 {
		q.mu.Unlock()
		return
	}
	q.busy = true
	head := q.waiters[0]
	q.mu.Unlock()

	ok := head()

	q.mu.Lock()
	q.busy = false
	if ok && len(q.waiters) > 0 {
		q.waiters = q.waiters[1:]
	}
	q.mu.Unlock()

	if ok {
		q.Wake()
	}
}

// Len reports how many attempts are currently parked, for tests and
// diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
