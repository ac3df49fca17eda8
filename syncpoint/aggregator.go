// Package syncpoint implements spec.md §4.D: the chain of sync points that
// partitions writes into flush-ordered groups, plus the fan-in completion
// primitive ("prior_persisted"/"self_persisted") each sync point uses to
// know when everything it depends on has actually reached the log.
//
// Grounded on common/event.go's wait/broadcast shape, but recast as a
// callback-based gather instead of a blocking Wait: the same "no blocking
// while holding a lock" constraint that shaped package blockguard applies
// here, since sync points complete from inside Release/Append call chains
// that already hold other locks.
package syncpoint

import "sync"

// Aggregator is a fan-in completion gate with three phases: creation
// (contributors register with Add), activation (Activate declares that no
// further contributors will register), and completion (once every
// registered contributor has called Done, every Listen callback fires,
// including ones registered after the fact).
type Aggregator struct {
	mu        sync.Mutex
	pending   int
	activated bool
	fired     bool
	listeners []func()
}

// NewAggregator returns an empty, unactivated Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add registers n more contributors that must each call Done before this
// aggregator can complete. Add after Activate is a programming error: the
// contributor set must be closed before completion can be observed.
func (a *Aggregator) Add(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activated {
		panic("syncpoint: Add called after Activate")
	}
	a.pending += n
}

// Done reports one contributor finished.
func (a *Aggregator) Done() {
	a.mu.Lock()
	a.pending--
	fire := a.checkFireLocked()
	a.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

// Activate declares that no more contributors will be Added. If the
// pending count is already (or becomes) zero, this is what allows
// completion to fire.
func (a *Aggregator) Activate() {
	a.mu.Lock()
	a.activated = true
	fire := a.checkFireLocked()
	a.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

// Listen registers f to run once this aggregator completes. If it has
// already completed, f runs synchronously, immediately.
func (a *Aggregator) Listen(f func()) {
	a.mu.Lock()
	if a.fired {
		a.mu.Unlock()
		f()
		return
	}
	a.listeners = append(a.listeners, f)
	a.mu.Unlock()
}

func (a *Aggregator) checkFireLocked() []func() {
	if a.fired || !a.activated || a.pending > 0 {
		return nil
	}
	a.fired = true
	listeners := a.listeners
	a.listeners = nil
	return listeners
}

// Fired reports whether this aggregator has already completed.
func (a *Aggregator) Fired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fired
}
