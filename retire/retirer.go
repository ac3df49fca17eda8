// Package retire implements spec.md §4.G: draining dirty log entries to the
// backing image and reclaiming the log-pool slots they occupied once they
// are safe to discard.
//
// Grounded on buffer/buffer_pool.go's FlushAll/TryFlush (walk the dirty
// set at the time of the call and flush each one) and freelist/free_list.go's
// Pop/Add (reclaim one resource at a time, only after it is safe to).
// Unlike TryFlush, a failed flush ends the pass: the entry stays unflushed
// and is retried on the next ProcessDirtyEntries call.
// Unlike the page buffer pool, flush order here is not optional: entries
// must drain in ring order because retirement can only advance
// first_valid_entry across a contiguous prefix.
package retire

import (
	"context"
	"fmt"
	"sync"

	"rwl/config"
	"rwl/downstream"
	"rwl/logpool"
	"rwl/pmem"
)

// Retirer walks one log pool's valid range, flushing dirty write entries
// downstream and retiring whatever contiguous prefix becomes eligible
// afterward.
type Retirer struct {
	pool       *logpool.Pool
	downstream downstream.Cache

	mu             sync.Mutex // serializes concurrent ProcessDirtyEntries/RetireEntries callers
	inFlightWrites int
	inFlightBytes  int64
}

// New returns a Retirer draining pool into ds.
func New(pool *logpool.Pool, ds downstream.Cache) *Retirer {
	return &Retirer{pool: pool, downstream: ds}
}

// CanFlushEntry reports spec.md §4.G's per-entry flush eligibility: only
// completed write entries that still carry their data and have not already
// been flushed need draining. Sync-point bookkeeping entries carry no data
// and are never flushed — logpool.LogEntry.Retireable does not require
// Flushed for them.
func CanFlushEntry(e *logpool.LogEntry) bool {
	return e.Record.Kind == logpool.EntryKindWrite && e.Record.HasData && e.Completed() && !e.Flushed()
}

// DirtyFraction reports the fraction of the ring currently occupied,
// spec.md §6's basis for the high/low retirement watermarks.
func (r *Retirer) DirtyFraction() float64 {
	n := r.pool.NumEntries()
	if n == 0 {
		return 0
	}
	free := r.pool.FreeLogEntries()
	used := n - 1 - free
	return float64(used) / float64(n)
}

// ShouldStartRetiring reports whether the ring has crossed
// config.RetireHighWater.
func (r *Retirer) ShouldStartRetiring() bool {
	return r.DirtyFraction() >= config.RetireHighWater
}

// ShouldKeepRetiring reports whether the ring is still above
// config.RetireLowWater, for a caller that started retiring at the high
// watermark and wants to keep going until it drains back down.
func (r *Retirer) ShouldKeepRetiring() bool {
	return r.DirtyFraction() > config.RetireLowWater
}

// ProcessDirtyEntries walks the valid range in ring order and flushes every
// eligible entry downstream, honoring config.InFlightFlushWriteLimit and
// config.InFlightFlushBytesLimit the way TryFlush's caller throttles on
// individual lock failures rather than submitting everything at once.
// It stops at the first entry that is not yet completed, since entries
// later in ring order cannot be known-dirty ahead of ones still in flight.
func (r *Retirer) ProcessDirtyEntries(ctx context.Context) (flushed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := r.pool.FirstValidEntry()
	last := r.pool.FirstFreeEntry()
	n := r.pool.NumEntries()

	for idx := first; idx != last; idx = (idx + 1) % n {
		e := r.pool.EntryAt(idx)
		if e == nil || !e.Completed() {
			break
		}
		if !CanFlushEntry(e) {
			continue
		}
		if r.inFlightWrites >= config.InFlightFlushWriteLimit || r.inFlightBytes >= config.InFlightFlushBytesLimit {
			break
		}

		if err := r.flushOne(ctx, e); err != nil {
			return flushed, fmt.Errorf("retire: flushing entry %d: %w", idx, err)
		}
		flushed++
	}
	return flushed, nil
}

func (r *Retirer) flushOne(ctx context.Context, e *logpool.LogEntry) error {
	data, err := r.pool.Pmem().Read(e.Record.DataHandle, 0, int(e.Record.WriteBytes))
	if err != nil {
		return err
	}

	r.inFlightWrites++
	r.inFlightBytes += int64(len(data))
	defer func() {
		r.inFlightWrites--
		r.inFlightBytes -= int64(len(data))
	}()

	if err := r.downstream.Write(ctx, e.Record.ImageOffset, data); err != nil {
		return err
	}
	e.SetFlushed()
	return nil
}

// RetireEntries retires the longest eligible contiguous prefix of the valid
// range, up to config.MaxFreePerTransaction entries, freeing their data
// buffers. It returns the number of entries retired.
func (r *Retirer) RetireEntries() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := r.pool.FirstValidEntry()
	last := r.pool.FirstFreeEntry()
	n := r.pool.NumEntries()

	var indices []uint32
	var frees []pmem.Handle
	for idx := first; idx != last && len(indices) < config.MaxFreePerTransaction; idx = (idx + 1) % n {
		e := r.pool.EntryAt(idx)
		if e == nil || !e.Retireable() {
			break
		}
		indices = append(indices, idx)
		if e.Record.HasData {
			frees = append(frees, e.Record.DataHandle)
		}
	}

	if len(indices) == 0 {
		return 0, nil
	}
	if err := r.pool.RetirePrefix(indices, frees); err != nil {
		return 0, fmt.Errorf("retire: retiring prefix: %w", err)
	}
	return len(indices), nil
}
