package logpool

import "sync/atomic"

// LogEntry is the in-memory twin of a LogEntryRecord (spec.md §3): it adds
// the completion/flush flags, reader pins, and map back-reference count
// that never get persisted. Package retire walks entries in ring order
// (via Pool.EntryAt) rather than through a separate dirty list, since ring
// order already is append/sync-point order.
type LogEntry struct {
	Record LogEntryRecord

	completed int32 // atomic bool
	flushed   int32 // atomic bool
	readers   int32
	backRefs  int32
}

func (e *LogEntry) SetCompleted() { atomic.StoreInt32(&e.completed, 1) }
func (e *LogEntry) Completed() bool {
	return atomic.LoadInt32(&e.completed) != 0
}

func (e *LogEntry) SetFlushed() { atomic.StoreInt32(&e.flushed, 1) }
func (e *LogEntry) Flushed() bool {
	return atomic.LoadInt32(&e.flushed) != 0
}

func (e *LogEntry) PinReader() int32   { return atomic.AddInt32(&e.readers, 1) }
func (e *LogEntry) UnpinReader() int32 { return atomic.AddInt32(&e.readers, -1) }
func (e *LogEntry) ReaderCount() int32 { return atomic.LoadInt32(&e.readers) }

func (e *LogEntry) IncrBackRef() int32 { return atomic.AddInt32(&e.backRefs, 1) }
func (e *LogEntry) DecrBackRef() int32 { return atomic.AddInt32(&e.backRefs, -1) }
func (e *LogEntry) BackRefCount() int32 {
	return atomic.LoadInt32(&e.backRefs)
}

// Retireable reports whether spec.md §4.G's retirement eligibility holds for
// e in isolation (it says nothing about ring-prefix contiguity, which is the
// caller's job).
func (e *LogEntry) Retireable() bool {
	if !e.Completed() {
		return false
	}
	if e.Record.Kind == EntryKindWrite && !e.Flushed() {
		return false
	}
	return e.ReaderCount() == 0 && e.BackRefCount() == 0
}
