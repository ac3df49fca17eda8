package pmem

import "sort"

// extent is a free run of bytes in the pool's arena, [Offset, Offset+Size).
type extent struct {
	Offset int64
	Size   int64
}

// extentAllocator is a first-fit allocator over a single arena of free
// extents, sorted by offset. It is intentionally simple: the pool's own
// bookkeeping (block-granular slot array, ring invariants) lives one layer
// up in logpool, so this allocator only needs to hand out and reclaim byte
// ranges correctly.
type extentAllocator struct {
	free []extent // sorted by Offset, never adjacent (always coalesced)
}

func newExtentAllocator(arenaOffset, arenaSize int64) *extentAllocator {
	return &extentAllocator{free: []extent{{Offset: arenaOffset, Size: arenaSize}}}
}

// alloc finds the first free extent big enough for size and carves it from
// the front, returning any leftover to the free list.
func (a *extentAllocator) alloc(size int64) (int64, bool) {
	for i, e := range a.free {
		if e.Size >= size {
			off := e.Offset
			if e.Size == size {
				a.free = append(a.free[:i], a.free[i+1:]...)
			} else {
				a.free[i] = extent{Offset: e.Offset + size, Size: e.Size - size}
			}
			return off, true
		}
	}
	return 0, false
}

// freeExtent returns a previously allocated extent to the pool, coalescing with
// neighbors so fragmentation cannot grow unbounded.
func (a *extentAllocator) freeExtent(off, size int64) {
	e := extent{Offset: off, Size: size}
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= off })
	a.free = append(a.free, extent{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = e

	// coalesce with the extent that follows
	if i+1 < len(a.free) && a.free[i].Offset+a.free[i].Size == a.free[i+1].Offset {
		a.free[i].Size += a.free[i+1].Size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	// coalesce with the extent that precedes
	if i > 0 && a.free[i-1].Offset+a.free[i-1].Size == a.free[i].Offset {
		a.free[i-1].Size += a.free[i].Size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// removeExtent carves [off, off+size) out of the free list without
// returning anything to the caller. Used by recovery to re-derive the
// arena's used/free split from log entries that are still holding live
// data, since the allocator itself keeps no on-disk state of its own.
func (a *extentAllocator) removeExtent(off, size int64) bool {
	for i, e := range a.free {
		if e.Offset <= off && off+size <= e.Offset+e.Size {
			rest := make([]extent, 0, len(a.free)+1)
			rest = append(rest, a.free[:i]...)
			if e.Offset < off {
				rest = append(rest, extent{Offset: e.Offset, Size: off - e.Offset})
			}
			if off+size < e.Offset+e.Size {
				rest = append(rest, extent{Offset: off + size, Size: e.Offset + e.Size - (off + size)})
			}
			rest = append(rest, a.free[i+1:]...)
			a.free = rest
			return true
		}
	}
	return false
}

func (a *extentAllocator) availableBytes() int64 {
	var total int64
	for _, e := range a.free {
		total += e.Size
	}
	return total
}
