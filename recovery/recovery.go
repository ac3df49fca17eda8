// Package recovery implements spec.md §4.H: rebuilding the write-log map
// and the sync-point graph from a freshly opened pool's persisted entries,
// before any read, write, or retire operation is allowed to run.
//
// Grounded on concurrency/txn_manager.go's ordered replay walk (forward
// here rather than reverse, since log entries are replayed, not undone)
// and disk/wal/log_iter_impl.go's tolerance for a torn tail: this package's
// equivalent of a torn tail is a write whose sync point was never itself
// persisted before the crash, handled by fabricating the missing sync
// point and keeping the write (if it was already acknowledged durable) or
// discarding it (if it wasn't) rather than by truncating a byte stream.
package recovery

import (
	"fmt"

	"rwl/intervalmap"
	"rwl/logpool"
	"rwl/syncpoint"
)

// Recover walks pool's valid range in ring order, reinserting every write
// into m and confirming sync points into graph as their closing
// EntryKindSyncPoint record is found. Writes left pending when the valid
// range ends — whose sync point never got its own record persisted before
// the crash — split on whether they were ever acknowledged durable to a
// caller (logpool.LogEntryRecord.Sequenced, set by persist-on-write mode at
// append time): a sequenced write already promised durability, so its
// missing sync point is fabricated and the write kept on the dirty list for
// the retirer to drain normally, per spec.md §8 scenario S4. An unsequenced
// write — persist-on-flush, never acknowledged absent a flush — is
// discarded, since there is no promise to honor.
func Recover(pool *logpool.Pool, graph *syncpoint.Graph, m *intervalmap.Map) error {
	first := pool.FirstValidEntry()
	last := pool.FirstFreeEntry()
	n := pool.NumEntries()

	var pending []*logpool.LogEntry

	confirm := func(gen uint64) {
		graph.FabricateMissingSyncPoint(gen)

		var remaining []*logpool.LogEntry
		for _, e := range pending {
			if e.Record.SyncGen == gen {
				m.Insert(e, e.Record.ImageOffset, e.Record.ImageOffset+uint64(e.Record.WriteBytes))
			} else {
				remaining = append(remaining, e)
			}
		}
		pending = remaining
	}

	for idx := first; idx != last; idx = (idx + 1) % n {
		e := pool.EntryAt(idx)
		if e == nil {
			return fmt.Errorf("recovery: missing entry at slot %d inside valid range [%d, %d)", idx, first, last)
		}
		e.SetCompleted()
		if e.Record.HasData {
			// The allocator backing a freshly opened pool starts with its
			// whole arena marked free; every live buffer a persisted record
			// still points at must be excluded before any new write is
			// allowed to reserve space that overlaps it.
			pool.Pmem().MarkAllocated(e.Record.DataHandle)
		}

		switch e.Record.Kind {
		case logpool.EntryKindSyncPoint:
			confirm(e.Record.SyncGen)
		case logpool.EntryKindWrite:
			pending = append(pending, e)
		}
	}

	// Whatever is still pending belongs to a sync point that never got its
	// own record persisted. A sequenced write was already acknowledged
	// durable to its caller, so its sync point is fabricated (once per
	// distinct generation) and the write is kept on the dirty list. An
	// unsequenced write was never acknowledged absent a flush; it is
	// discarded instead — marked flushed with nothing to flush, so the
	// retirer reclaims the slot without ever touching downstream.
	fabricated := map[uint64]bool{}
	for _, e := range pending {
		if !e.Record.Sequenced {
			e.SetFlushed()
			continue
		}
		gen := e.Record.SyncGen
		if !fabricated[gen] {
			graph.FabricateMissingSyncPoint(gen)
			fabricated[gen] = true
		}
		m.Insert(e, e.Record.ImageOffset, e.Record.ImageOffset+uint64(e.Record.WriteBytes))
	}

	return nil
}
