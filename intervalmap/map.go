// Package intervalmap implements spec.md §4.B: the write-log map, an
// interval index from image byte-ranges to the newest log entry covering
// them. Overlap is resolved eagerly on insert, never lazily on read.
//
// Grounded on the ordered, invariant-checked traversal style the teacher
// uses for its own ordered structures (btree/btree/iterator.go's equal-range
// walks), but implemented as a sorted, non-overlapping slice rather than a
// tree: the live entry count is bounded by the log pool's own slot count
// (config.MaxLogEntries), the same "simplest structure that satisfies the
// invariant" reasoning the teacher applies to its own free list
// (freelist/free_list.go is a linked list of pages, not a tree).
package intervalmap

import (
	"sort"
	"sync"

	"rwl/logpool"
)

// Entry is one non-overlapping [Start, End) image-byte range, paired with
// the log entry it was last written by.
type Entry struct {
	Start, End uint64
	LogEntry   *logpool.LogEntry
}

// Result is one piece of a Find query's answer: either a hit (LogEntry !=
// nil, served from the log) or a gap (LogEntry == nil, forwarded downstream).
type Result struct {
	Start, End uint64
	LogEntry   *logpool.LogEntry
}

// Map is the write-log map. Mutators (Insert/Remove/Clear) take an
// exclusive hold; Find takes the entry_reader_lock's read-side (spec.md
// §5: "Interval map and in-order log list: readers allowed... under shared
// hold; mutators under exclusive hold").
type Map struct {
	mu      sync.RWMutex
	entries []Entry // sorted by Start, non-overlapping
}

// firstOverlapIndex returns the index of the first entry whose End is past
// start — the start of the equal-range for [start, end), since two entries
// compare equal (overlap) iff a.End > b.Start && b.End > a.Start.
func (m *Map) firstOverlapIndex(start uint64) int {
	return sort.Search(len(m.entries), func(i int) bool { return m.entries[i].End > start })
}

// Insert adds [start, end) pointing at e, splitting or shrinking whatever
// existing entries it overlaps per spec.md §4.B's algorithm.
func (m *Map) Insert(e *logpool.LogEntry, start, end uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.firstOverlapIndex(start)
	j := i
	var before, after []Entry

	for j < len(m.entries) && m.entries[j].Start < end {
		old := m.entries[j]
		switch {
		case start <= old.Start && old.End <= end:
			// fully covered: drop entirely.
			old.LogEntry.DecrBackRef()
		case old.Start < start && end < old.End:
			// new range lies strictly inside: split into two remainders,
			// both still pointing at old's log entry.
			before = append(before, Entry{Start: old.Start, End: start, LogEntry: old.LogEntry})
			after = append(after, Entry{Start: end, End: old.End, LogEntry: old.LogEntry})
			old.LogEntry.IncrBackRef()
		case old.Start < start:
			// right-overlapped only: keep the portion left of the new range.
			before = append(before, Entry{Start: old.Start, End: start, LogEntry: old.LogEntry})
		default:
			// left-overlapped only: keep the portion right of the new range.
			after = append(after, Entry{Start: end, End: old.End, LogEntry: old.LogEntry})
		}
		j++
	}

	e.IncrBackRef()
	result := make([]Entry, 0, len(m.entries)-(j-i)+len(before)+len(after)+1)
	result = append(result, m.entries[:i]...)
	result = append(result, before...)
	result = append(result, Entry{Start: start, End: end, LogEntry: e})
	result = append(result, after...)
	result = append(result, m.entries[j:]...)
	m.entries = result
}

// InvalidateRange drops whatever the map holds inside [start, end) without
// inserting a replacement entry in its place, for spec.md §4.I's discard
// ("invalidate the extent in the map"). Entries that only partially overlap
// the range keep the portion outside it, the same splitting Insert does;
// it differs from Insert only in that the covered span is left empty
// instead of handed to a new log entry. Returns the distinct log entries
// that lost at least one back-reference as a result.
func (m *Map) InvalidateRange(start, end uint64) []*logpool.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.firstOverlapIndex(start)
	j := i
	var before, after []Entry
	seen := map[*logpool.LogEntry]bool{}
	var drained []*logpool.LogEntry

	for j < len(m.entries) && m.entries[j].Start < end {
		old := m.entries[j]
		switch {
		case start <= old.Start && old.End <= end:
			old.LogEntry.DecrBackRef()
			if !seen[old.LogEntry] {
				seen[old.LogEntry] = true
				drained = append(drained, old.LogEntry)
			}
		case old.Start < start && end < old.End:
			before = append(before, Entry{Start: old.Start, End: start, LogEntry: old.LogEntry})
			after = append(after, Entry{Start: end, End: old.End, LogEntry: old.LogEntry})
			old.LogEntry.IncrBackRef()
		case old.Start < start:
			before = append(before, Entry{Start: old.Start, End: start, LogEntry: old.LogEntry})
		default:
			after = append(after, Entry{Start: end, End: old.End, LogEntry: old.LogEntry})
		}
		j++
	}

	result := make([]Entry, 0, len(m.entries)-(j-i)+len(before)+len(after))
	result = append(result, m.entries[:i]...)
	result = append(result, before...)
	result = append(result, after...)
	result = append(result, m.entries[j:]...)
	m.entries = result
	return drained
}

// Remove drops every map entry pointing at target, decrementing its
// back-reference count once per entry removed.
func (m *Map) Remove(target *logpool.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if e.LogEntry == target {
			target.DecrBackRef()
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
}

// Find partitions [start, end) into hit and gap Results in ascending
// offset order, for spec.md §4.I's read composition.
func (m *Map) Find(start, end uint64) []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Result
	cur := start
	i := m.firstOverlapIndex(start)
	for cur < end {
		if i >= len(m.entries) || m.entries[i].Start >= end {
			out = append(out, Result{Start: cur, End: end})
			break
		}
		e := m.entries[i]
		if e.Start > cur {
			out = append(out, Result{Start: cur, End: e.Start})
			cur = e.Start
			continue
		}
		hitEnd := e.End
		if hitEnd > end {
			hitEnd = end
		}
		out = append(out, Result{Start: cur, End: hitEnd, LogEntry: e.LogEntry})
		cur = hitEnd
		i++
	}
	return out
}

// Clear empties the map (spec.md §4.I's invalidate), returning the distinct
// log entries that lost all their back-references as a result.
func (m *Map) Clear() []*logpool.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[*logpool.LogEntry]bool{}
	var drained []*logpool.LogEntry
	for _, e := range m.entries {
		e.LogEntry.DecrBackRef()
		if !seen[e.LogEntry] {
			seen[e.LogEntry] = true
			drained = append(drained, e.LogEntry)
		}
	}
	m.entries = nil
	return drained
}

// Len reports the number of live map entries, for tests and invariant
// checks.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
