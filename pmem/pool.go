// Package pmem provides the abstract persistent-allocator interface the rest
// of the core is built on. The real PMEM library (libpmemobj and friends) is
// out of scope; this package only needs to expose the shape of it: byte
// addressable persistent storage, speculative buffer reservation, and
// transactions with post-commit/post-abort hooks.
package pmem

import "errors"

// ErrOutOfSpace is returned by ReserveBuffer when the pool has no free
// extent large enough to satisfy the request.
var ErrOutOfSpace = errors.New("pmem: out of space")

// ErrClosed is returned by any operation on a pool that has been closed.
var ErrClosed = errors.New("pmem: pool closed")

// Handle addresses a byte range inside a pool. It remains valid from
// reservation until the buffer is freed, regardless of whether the
// reservation has been published yet.
type Handle struct {
	Offset int64
	Size   int64
}

// ActionToken names a single pending reservation inside a pool. A batch of
// actions is published or cancelled together by the caller that reserved
// them, mirroring how the source groups a write's buffer reservation with
// the append transaction that will either publish or cancel it.
type ActionToken uint64

// Pool is the abstract persistent-allocator interface. Buffers are reserved
// speculatively, ahead of the transaction that will make them durable; a
// reservation becomes visible to other readers of the pool only once
// Publish is called for it, and disappears without a trace if Cancel is
// called instead.
type Pool interface {
	// ReserveBuffer carves out size bytes of persistent space and returns a
	// handle to it plus a token identifying the reservation. The returned
	// buffer is writable immediately but must not be treated as durable, or
	// be visible to recovery, until Publish(token) succeeds.
	ReserveBuffer(size int) (ActionToken, Handle, error)

	// Publish makes a batch of previously reserved buffers durable and
	// visible. Buffers not eventually published must be Cancel'd.
	Publish(actions []ActionToken) error

	// Cancel releases a reservation that will never be published.
	Cancel(action ActionToken)

	// MarkAllocated excludes h from the free list without any matching
	// reservation token, for a caller (package recovery) replaying a
	// pool's existing records against an allocator that otherwise starts
	// with the whole arena marked free.
	MarkAllocated(h Handle)

	// Write copies p into the buffer at h, starting at off.
	Write(h Handle, off int, p []byte) error

	// Read copies n bytes starting at off out of the buffer at h.
	Read(h Handle, off, n int) ([]byte, error)

	// Free returns a published buffer's space to the allocator. Must only
	// be called once a buffer has no remaining owners (spec.md §3's
	// ownership rules for log entries).
	Free(h Handle) error

	// FlushRange forces off..off+len of h's backing store to durable media.
	FlushRange(h Handle, off, n int) error

	// FlushRoot forces off..off+n of the root region (the slot array, not
	// any Handle-addressed arena buffer) to durable media, for a caller
	// (package logpool) that needs to confirm a span of newly written slot
	// records independently of the transaction's own commit fsync.
	FlushRoot(off, n int) error

	// Drain blocks until every flush issued so far by this pool has
	// completed on the underlying hardware.
	Drain() error

	// BeginTx starts a transaction over the pool's root object.
	BeginTx() (Tx, error)

	// Size returns the total addressable size of the pool, in bytes.
	Size() int64

	// Close releases the pool's underlying resources.
	Close() error
}

// Tx is a transaction over a pool's root object. Writes made through a Tx
// are invisible until Commit succeeds; Abort discards them. Exactly one of
// the registered OnCommit or OnAbort hooks runs once the transaction
// resolves, never both, and hooks run after the underlying store has
// durably recorded the outcome.
type Tx interface {
	// SetRoot overwrites the root object's bytes starting at off.
	SetRoot(off int, data []byte)

	// Publish folds a buffer-reservation publish into this transaction: on
	// commit the reservation becomes durable atomically with the root
	// write; on abort it is cancelled.
	Publish(action ActionToken)

	// OnCommit registers a hook to run after Commit succeeds.
	OnCommit(hook func())

	// OnAbort registers a hook to run after Abort (or a failed Commit).
	OnAbort(hook func())

	Commit() error
	Abort()
}
