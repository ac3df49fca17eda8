// Package rwlog implements spec.md §4.I: the façade that wires the log
// pool, block guard, write-log map, sync-point graph, append pipe, and
// retirer into one write-back cache sitting in front of a downstream
// image store.
//
// Grounded on db/db.go's component-composition DB struct (one struct
// field per collaborator, a *log.Logger for diagnostics, a background
// routine with its own stop/done channel pair) generalized from a
// checkpoint routine to a retire routine.
package rwlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"rwl/appendpipe"
	"rwl/blockguard"
	"rwl/config"
	"rwl/deferred"
	"rwl/downstream"
	"rwl/intervalmap"
	"rwl/logpool"
	"rwl/pmem"
	"rwl/recovery"
	"rwl/request"
	"rwl/retire"
	"rwl/rwlstats"
	"rwl/syncpoint"
)

// Cache is one open replicated write-log, accelerating writes to a
// downstream.Cache image.
type Cache struct {
	cfg config.Options

	pool       *logpool.Pool
	guard      blockguard.Guard
	imap       intervalmap.Map
	graph      *syncpoint.Graph
	pipe       *appendpipe.Pipe
	retirer    *retire.Retirer
	downstream downstream.Cache
	stats      *rwlstats.Stats
	logger     *log.Logger

	// deferredAlloc holds ALLOC_PENDING requests parked behind a transient
	// pmem.ErrOutOfSpace or logpool.ErrOutOfLogEntries, retried head-of-line
	// as retire.Retirer frees room (spec.md §4.E, §5, §7).
	deferredAlloc deferred.Queue

	spMu sync.Mutex
	sps  *syncPointState

	nextReqID uint64
	writeSeq  uint64

	retireStop chan struct{}
	retireDone chan struct{}
}

type syncPointState struct {
	sp     *syncpoint.SyncPoint
	writes int
	bytes  int64
}

// Open opens (or creates) the log pool at path, recovers it, and starts
// the background retire routine. ds must already be safe to call; Open
// itself calls ds.Init.
func Open(path string, cfg config.Options, ds downstream.Cache, logger *log.Logger) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "rwlog: ", log.LstdFlags)
	}

	var pool *logpool.Pool
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		pool, err = logpool.Open(path, cfg)
	} else {
		pool, err = logpool.Create(path, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("rwlog: open: %w", err)
	}

	c := &Cache{
		cfg:        cfg,
		pool:       pool,
		graph:      syncpoint.NewGraph(),
		pipe:       appendpipe.New(pool),
		downstream: ds,
		stats:      rwlstats.New(),
		logger:     logger,
		retireStop: make(chan struct{}),
		retireDone: make(chan struct{}),
	}
	c.retirer = retire.New(pool, ds)

	if err := recovery.Recover(pool, c.graph, &c.imap); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rwlog: recovery: %w", err)
	}

	if err := ds.Init(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rwlog: downstream init: %w", err)
	}

	go c.retireLoop()
	return c, nil
}

// Shutdown drains every dirty entry downstream, stops the retire routine,
// and closes the pool and downstream cache.
func (c *Cache) Shutdown(ctx context.Context) error {
	if err := c.drain(ctx); err != nil {
		return err
	}
	close(c.retireStop)
	<-c.retireDone

	if err := c.downstream.Shutdown(ctx); err != nil {
		return err
	}
	return c.pool.Close()
}

func (c *Cache) retireLoop() {
	ticker := time.NewTicker(config.RetireBatchTimeLimit)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.retirer.ShouldStartRetiring() {
				continue
			}
			deadline := time.Now().Add(config.RetireBatchTimeLimit)
			for {
				flushed, err := c.retirer.ProcessDirtyEntries(context.Background())
				if err != nil {
					c.logger.Printf("flush error: %v", err)
					break
				}
				retired, err := c.retirer.RetireEntries()
				if err != nil {
					c.logger.Printf("retire error: %v", err)
					break
				}
				if retired > 0 {
					c.deferredAlloc.Wake()
				}
				if flushed == 0 && retired == 0 {
					break
				}
				if !c.retirer.ShouldKeepRetiring() {
					break
				}
				if time.Now().After(deadline) {
					break
				}
			}
		case <-c.retireStop:
			close(c.retireDone)
			return
		}
	}
}

// drain repeatedly flushes and retires until a full pass makes no
// progress, for Shutdown and Flush to call synchronously.
func (c *Cache) drain(ctx context.Context) error {
	for {
		flushed, err := c.retirer.ProcessDirtyEntries(ctx)
		if err != nil {
			return err
		}
		retired, err := c.retirer.RetireEntries()
		if err != nil {
			return err
		}
		if retired > 0 {
			c.deferredAlloc.Wake()
		}
		if flushed == 0 && retired == 0 {
			return nil
		}
	}
}

func (c *Cache) nextRequestID() uint64 {
	return atomic.AddUint64(&c.nextReqID, 1)
}

func (c *Cache) nextWriteSeqNum() uint64 {
	return atomic.AddUint64(&c.writeSeq, 1)
}

// reserveSyncPoint adds the caller as a contributor to whichever sync
// point is currently accepting writes, rotating to a fresh one first if
// this write would push it past config.MaxWritesPerSyncPoint or
// config.MaxBytesPerSyncPoint. The sync point rotated out, if any, is
// closed: its own bookkeeping log record gets appended once every write
// attached to it has settled.
func (c *Cache) reserveSyncPoint(n int) *syncpoint.SyncPoint {
	c.spMu.Lock()
	defer c.spMu.Unlock()

	if c.sps == nil ||
		c.sps.writes+1 > config.MaxWritesPerSyncPoint ||
		c.sps.bytes+int64(n) > config.MaxBytesPerSyncPoint {
		old := c.sps
		c.sps = &syncPointState{sp: c.graph.NewSyncPoint()}
		if old != nil {
			c.closeSyncPoint(old.sp)
		}
	}
	c.sps.writes++
	c.sps.bytes += int64(n)
	sp := c.sps.sp
	sp.SelfPersisted.Add(1)
	return sp
}

// closeSyncPoint arranges for sp's own bookkeeping log record to be
// appended once every write attached to it has persisted, per spec.md
// §4.D's "when to_append.self_persisted fires, dispatch the internal flush
// request that appends the sync-point log record."
func (c *Cache) closeSyncPoint(sp *syncpoint.SyncPoint) {
	sp.SelfPersisted.Listen(func() { go c.appendSyncPointRecord(sp) })
}

// appendSyncPointRecord submits sp's own EntryKindSyncPoint record through
// the same append pipeline user writes use, consuming a log ring slot of
// its own (spec.md §3, §6) — this is what makes the sync point concretely
// findable on a later recovery scan, rather than a purely in-memory graph
// node.
func (c *Cache) appendSyncPointRecord(sp *syncpoint.SyncPoint) {
	if err := c.pipe.AcquireLane(context.Background()); err != nil {
		c.logger.Printf("rwlog: acquiring lane for sync point %d record: %v", sp.Gen, err)
		sp.RecordPersisted.Done()
		return
	}
	rec := logpool.LogEntryRecord{Kind: logpool.EntryKindSyncPoint, SyncGen: sp.Gen}
	idx, err := c.pipe.Submit(rec, nil)
	c.pipe.ReleaseLane()
	if err != nil && errors.Is(err, logpool.ErrOutOfLogEntries) {
		c.deferredAlloc.Park(func() bool {
			idx, err := c.pipe.Submit(rec, nil)
			if err != nil {
				if errors.Is(err, logpool.ErrOutOfLogEntries) {
					return false
				}
				c.logger.Printf("rwlog: appending sync point %d record: %v", sp.Gen, err)
				sp.RecordPersisted.Done()
				return true
			}
			c.pool.EntryAt(idx).SetCompleted()
			sp.RecordPersisted.Done()
			return true
		})
		return
	}
	if err != nil {
		c.logger.Printf("rwlog: appending sync point %d record: %v", sp.Gen, err)
		sp.RecordPersisted.Done()
		return
	}
	c.pool.EntryAt(idx).SetCompleted()
	sp.RecordPersisted.Done()
}

// Flush detains as a barrier so every write already in flight settles
// first, then — only if writes have occurred since the last sync point,
// per spec.md §4.I and the idempotent-flush law of §8 — closes the current
// sync point and waits for its bookkeeping record to persist, before
// draining every dirty entry downstream and flushing the downstream cache
// itself.
func (c *Cache) Flush(ctx context.Context) error {
	detainBarrierSync(&c.guard)

	c.spMu.Lock()
	var flushed *syncpoint.SyncPoint
	if c.sps != nil && c.sps.writes > 0 {
		var next *syncpoint.SyncPoint
		flushed, next = c.graph.FlushNewSyncPoint()
		c.sps = &syncPointState{sp: next}
	}
	c.spMu.Unlock()

	if flushed != nil {
		c.closeSyncPoint(flushed)
		done := make(chan struct{})
		flushed.RecordPersisted.Listen(func() { close(done) })
		<-done
	}

	if err := c.drain(ctx); err != nil {
		return err
	}
	return c.downstream.Flush(ctx)
}

func detainSync(g *blockguard.Guard, id uint64, rng blockguard.Range) {
	done := make(chan struct{})
	g.Detain(id, rng, func() { close(done) })
	<-done
}

func detainBarrierSync(g *blockguard.Guard) {
	done := make(chan struct{})
	g.Barrier(func() { close(done) })
	<-done
}

// reserveBufferOrDefer reserves a data buffer, parking on c.deferredAlloc and
// retrying head-of-line instead of failing the request when the pool is
// transiently out of space (spec.md §4.E's deferred-dispatch path; §7's
// "internal recoveries (defer, retry) never reach the caller").
func (c *Cache) reserveBufferOrDefer(ctx context.Context, req *request.Request, size int) (pmem.ActionToken, pmem.Handle, error) {
	tok, handle, err := c.pool.Pmem().ReserveBuffer(size)
	if err == nil || !errors.Is(err, pmem.ErrOutOfSpace) {
		return tok, handle, err
	}

	type result struct {
		tok    pmem.ActionToken
		handle pmem.Handle
		err    error
	}
	done := make(chan result, 1)
	req.SetDeferred(true)
	c.deferredAlloc.Park(func() bool {
		tok, handle, err := c.pool.Pmem().ReserveBuffer(size)
		if err != nil {
			if errors.Is(err, pmem.ErrOutOfSpace) {
				return false
			}
			done <- result{err: err}
			return true
		}
		done <- result{tok: tok, handle: handle}
		return true
	})

	select {
	case r := <-done:
		req.SetDeferred(false)
		return r.tok, r.handle, r.err
	case <-ctx.Done():
		return 0, pmem.Handle{}, ctx.Err()
	}
}

// submitOrDefer submits rec through the append pipe, parking on
// c.deferredAlloc and retrying head-of-line instead of failing the request
// when the ring has no free slot (logpool.ErrOutOfLogEntries) — the other
// half of spec.md §4.E's deferred-dispatch path.
func (c *Cache) submitOrDefer(ctx context.Context, req *request.Request, rec logpool.LogEntryRecord, tok pmem.ActionToken) (uint32, error) {
	idx, err := c.pipe.Submit(rec, []pmem.ActionToken{tok})
	if err == nil || !errors.Is(err, logpool.ErrOutOfLogEntries) {
		return idx, err
	}

	type result struct {
		idx uint32
		err error
	}
	done := make(chan result, 1)
	req.SetDeferred(true)
	c.deferredAlloc.Park(func() bool {
		idx, err := c.pipe.Submit(rec, []pmem.ActionToken{tok})
		if err != nil {
			if errors.Is(err, logpool.ErrOutOfLogEntries) {
				return false
			}
			done <- result{err: err}
			return true
		}
		done <- result{idx: idx}
		return true
	})

	select {
	case r := <-done:
		req.SetDeferred(false)
		return r.idx, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// appendLocalEntry drives one write through spec.md §3's request state
// machine: guard, allocate, dispatch, persist, publish. In persist-on-write
// mode (the default) it blocks until the append commits, acknowledging at
// PERSISTED. In persist-on-flush mode, per spec.md §4.D/§4.E, it instead
// acknowledges the caller at DISPATCHED, once the payload has been copied
// into its PMEM buffer; attaching it to a sync point, flushing the buffer
// and the remaining steps through PERSISTED run in the background. The request keeps its guard cell held
// until then regardless of mode, so a later Flush's barrier — which only
// resumes once every active hold has released — still waits for it to
// actually reach the log before draining downstream.
func (c *Cache) appendLocalEntry(ctx context.Context, rng blockguard.Range, data []byte) error {
	req := request.New(request.Write, rng, data)
	id := c.nextRequestID()

	if err := req.Advance(request.GuardPending); err != nil {
		return err
	}
	if err := c.pipe.AcquireLane(ctx); err != nil {
		req.Fail(err)
		return err
	}
	laneHeld := true
	defer func() {
		if laneHeld {
			c.pipe.ReleaseLane()
		}
	}()

	detainSync(&c.guard, id, rng)
	req.OnRollback(func() { c.guard.Release(id, rng) })
	if err := req.Advance(request.GuardHeld); err != nil {
		req.Fail(err)
		return err
	}

	if err := req.Advance(request.AllocPending); err != nil {
		req.Fail(err)
		return err
	}

	tok, handle, err := c.reserveBufferOrDefer(ctx, req, len(data))
	if err != nil {
		req.Fail(err)
		return err
	}
	req.OnRollback(func() { c.pool.Pmem().Cancel(tok) })
	if err := c.pool.Pmem().Write(handle, 0, data); err != nil {
		req.Fail(err)
		return err
	}

	if err := req.Advance(request.Dispatched); err != nil {
		req.Fail(err)
		return err
	}

	writeSeq := uint64(0)
	sequenced := false
	if !c.cfg.PersistOnFlush {
		writeSeq = c.nextWriteSeqNum()
		sequenced = true
	}

	// finish takes over lane ownership from here: it releases it exactly
	// once, whether it runs on this goroutine or the background one
	// persist-on-flush mode spawns below.
	finish := func() error {
		sp := c.reserveSyncPoint(len(data))

		if err := req.Advance(request.BufferPersisted); err != nil {
			c.pipe.ReleaseLane()
			req.Fail(err)
			return err
		}
		if err := req.Advance(request.Appending); err != nil {
			c.pipe.ReleaseLane()
			req.Fail(err)
			return err
		}

		rec := logpool.LogEntryRecord{
			Kind:        logpool.EntryKindWrite,
			SyncGen:     sp.Gen,
			WriteSeq:    writeSeq,
			Sequenced:   sequenced,
			ImageOffset: rng.Start,
			WriteBytes:  uint32(rng.End - rng.Start),
			HasData:     true,
			DataHandle:  handle,
		}

		idx, err := c.submitOrDefer(ctx, req, rec, tok)
		c.pipe.ReleaseLane()
		if err != nil {
			req.Fail(err)
			return err
		}
		sp.SelfPersisted.Done()

		entry := c.pool.EntryAt(idx)
		entry.SetCompleted()
		req.LogEntry = entry
		req.SyncPoint = sp

		if err := req.Advance(request.Appended); err != nil {
			return err
		}
		if err := req.Advance(request.Persisted); err != nil {
			return err
		}

		c.imap.Insert(entry, rng.Start, rng.End)
		c.guard.Release(id, rng)
		c.stats.Incr("writes_completed", 1)
		return req.Complete()
	}

	laneHeld = false
	if c.cfg.PersistOnFlush {
		go func() {
			if err := finish(); err != nil {
				c.logger.Printf("rwlog: background append failed: %v", err)
			}
		}()
		return nil
	}
	return finish()
}

// Write absorbs a write into the log. In persist-on-write mode (the
// default) it acknowledges once the write is durable; in persist-on-flush
// mode it acknowledges at dispatch, with durability only guaranteed by a
// subsequent Flush — see appendLocalEntry and spec.md §4.D.
func (c *Cache) Write(ctx context.Context, offset uint64, data []byte) error {
	rng := blockguard.Range{Start: offset, End: offset + uint64(len(data))}
	return c.appendLocalEntry(ctx, rng, data)
}

// Discard implements spec.md §4.I's algorithm: an internal flush to settle
// everything written so far (so the range about to be discarded can't race
// a write still in flight), then invalidating the extent in the write-log
// map, then forwarding the discard downstream so its own trim/discard
// state is updated too.
func (c *Cache) Discard(ctx context.Context, offset uint64, length uint32) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.imap.InvalidateRange(offset, offset+uint64(length))
	return c.downstream.Discard(ctx, offset, length)
}

// WriteSame materializes pattern repeated across length bytes and writes
// it as a single local write, per this module's write-same resolution:
// there is no dedicated compact on-log representation for a repeated
// pattern, only the single local-write pass spec.md §9 left open.
func (c *Cache) WriteSame(ctx context.Context, offset uint64, length uint32, pattern []byte) error {
	if len(pattern) == 0 {
		return fmt.Errorf("rwlog: empty write-same pattern")
	}
	data := make([]byte, length)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return c.Write(ctx, offset, data)
}

// CompareAndWrite reads the current contents through the same path Read
// uses — the write-log map first, downstream only for misses — compares
// against cmp, and writes data only on a match.
func (c *Cache) CompareAndWrite(ctx context.Context, offset uint64, cmp, data []byte) error {
	current, err := c.Read(ctx, offset, uint32(len(cmp)))
	if err != nil {
		return err
	}
	if !bytes.Equal(current, cmp) {
		return fmt.Errorf("rwlog: compare-and-write mismatch at offset %d", offset)
	}
	return c.Write(ctx, offset, data)
}

// Read composes the answer from the write-log map's hits and the
// downstream cache's misses, per spec.md §4.I.
func (c *Cache) Read(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	out := make([]byte, length)
	for _, res := range c.imap.Find(offset, offset+uint64(length)) {
		relStart := res.Start - offset
		n := res.End - res.Start

		if res.LogEntry == nil {
			chunk, err := c.downstream.Read(ctx, res.Start, uint32(n))
			if err != nil {
				return nil, err
			}
			copy(out[relStart:relStart+n], chunk)
			continue
		}

		e := res.LogEntry
		e.PinReader()
		if !e.Record.Unmap {
			dataOff := res.Start - e.Record.ImageOffset
			chunk, err := c.pool.Pmem().Read(e.Record.DataHandle, int(dataOff), int(n))
			if err != nil {
				e.UnpinReader()
				return nil, err
			}
			copy(out[relStart:relStart+n], chunk)
		}
		e.UnpinReader()
	}

	c.stats.Incr("reads_completed", 1)
	return out, nil
}

// Invalidate drops the write-log map's view of the image, so every
// subsequent read falls through to downstream, and invalidates downstream
// in turn. Entries stay in the ring for the retirer to reclaim in its own
// time; only their back-references, which kept them "live" for reads, are
// dropped here.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.imap.Clear()
	return c.downstream.Invalidate(ctx)
}

// Stats returns a point-in-time snapshot of this cache's counters.
func (c *Cache) Stats() rwlstats.Snapshot {
	return c.stats.Snapshot()
}
