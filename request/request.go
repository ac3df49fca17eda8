// Package request implements spec.md §4.E: the per-operation state machine
// every read, write, discard, and barrier op travels through, plus the
// rollback-hook discipline that unwinds partially set-up state when an
// operation fails partway.
//
// Grounded on transaction/transaction.go's minimal per-operation handle and
// buffer/buffer_pool.go's pattern of undoing pins/allocations on failure
// rather than leaving them to a caller; generalized into an explicit state
// machine because spec.md §3 names the ten states a request must pass
// through in order, rather than leaving that order implicit.
package request

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"rwl/blockguard"
	"rwl/logpool"
	"rwl/syncpoint"
)

// Kind distinguishes the handful of operations rwlog exposes.
type Kind int

const (
	Read Kind = iota
	Write
	WriteSame
	CompareAndWrite
	Discard
	Flush
)

// State is one stage of spec.md §3's request lifecycle.
type State int

const (
	Arrived State = iota
	GuardPending
	GuardHeld
	AllocPending
	Dispatched
	BufferPersisted
	Appending
	Appended
	Persisted
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Arrived:
		return "arrived"
	case GuardPending:
		return "guard_pending"
	case GuardHeld:
		return "guard_held"
	case AllocPending:
		return "alloc_pending"
	case Dispatched:
		return "dispatched"
	case BufferPersisted:
		return "buffer_persisted"
	case Appending:
		return "appending"
	case Appended:
		return "appended"
	case Persisted:
		return "persisted"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	Arrived:         {GuardPending, Failed},
	GuardPending:    {GuardHeld, Failed},
	GuardHeld:       {AllocPending, Failed},
	AllocPending:    {Dispatched, Failed},
	Dispatched:      {BufferPersisted, Failed},
	BufferPersisted: {Appending, Failed},
	Appending:       {Appended, Failed},
	Appended:        {Persisted, Failed},
	Persisted:       {Completed},
	Completed:       {},
	Failed:          {},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is one in-flight operation. It carries the guard range, log
// entry, and sync point it has acquired so far — whichever of those a given
// Kind actually needs — plus the completion/rollback bookkeeping the
// pipeline stages share.
type Request struct {
	mu sync.Mutex

	ID    uuid.UUID
	Kind  Kind
	Range blockguard.Range
	Data  []byte

	// CompareData holds the expected-current-contents buffer for
	// CompareAndWrite; unused by every other Kind.
	CompareData []byte

	LogEntry  *logpool.LogEntry
	SyncPoint *syncpoint.SyncPoint

	state    State
	err      error
	deferred bool

	rollback   []func()
	onComplete []func(error)
}

// New creates a request in the Arrived state.
func New(kind Kind, rng blockguard.Range, data []byte) *Request {
	return &Request{ID: uuid.New(), Kind: kind, Range: rng, Data: data, state: Arrived}
}

// State returns the request's current lifecycle stage.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error a Failed request failed with, or nil.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// SetDeferred records whether this request is currently parked on
// package deferred's queue, waiting for an ALLOC_PENDING retry rather than
// failing outright (spec.md §4.E, §7). Purely observational — it does not
// affect Advance's transition table.
func (r *Request) SetDeferred(v bool) {
	r.mu.Lock()
	r.deferred = v
	r.mu.Unlock()
}

// Deferred reports whether SetDeferred(true) is currently in effect.
func (r *Request) Deferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred
}

// Advance moves the request to the next state, rejecting any transition
// spec.md §3's state machine does not allow.
func (r *Request) Advance(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !allowed(r.state, to) {
		return fmt.Errorf("request: invalid transition %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}

// OnRollback registers a cleanup hook to run, in LIFO order, if the request
// fails before completing — e.g. releasing a block guard hold, cancelling a
// buffer reservation, or undoing an append. Hooks registered after the
// request has already failed run inline, immediately.
func (r *Request) OnRollback(f func()) {
	r.mu.Lock()
	if r.state == Failed {
		r.mu.Unlock()
		f()
		return
	}
	r.rollback = append(r.rollback, f)
	r.mu.Unlock()
}

// Fail transitions the request to Failed from any non-terminal state,
// running every registered rollback hook in LIFO order and then notifying
// completion listeners with err.
func (r *Request) Fail(err error) {
	r.mu.Lock()
	if r.state == Completed || r.state == Failed {
		r.mu.Unlock()
		return
	}
	r.state = Failed
	r.err = err
	hooks := r.rollback
	r.rollback = nil
	listeners := r.onComplete
	r.onComplete = nil
	r.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	for _, l := range listeners {
		l(err)
	}
}

// Complete transitions a Persisted request to Completed and notifies
// completion listeners with a nil error.
func (r *Request) Complete() error {
	r.mu.Lock()
	if !allowed(r.state, Completed) {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("request: cannot complete from state %s", state)
	}
	r.state = Completed
	listeners := r.onComplete
	r.onComplete = nil
	r.mu.Unlock()

	for _, l := range listeners {
		l(nil)
	}
	return nil
}

// OnComplete registers f to run once the request reaches a terminal state,
// with the Fail error or nil on success. If the request is already
// terminal, f runs synchronously, immediately.
func (r *Request) OnComplete(f func(error)) {
	r.mu.Lock()
	switch r.state {
	case Completed:
		r.mu.Unlock()
		f(nil)
		return
	case Failed:
		err := r.err
		r.mu.Unlock()
		f(err)
		return
	default:
		r.onComplete = append(r.onComplete, f)
		r.mu.Unlock()
	}
}
