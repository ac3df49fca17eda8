// Package logpool implements spec.md §4.A: a fixed ring of log-entry slots
// plus a reserved-buffer allocator, sitting on top of an abstract PMEM pool
// (package pmem). It owns the root header's first_free_entry/
// first_valid_entry pair and the two locks (log_append_lock, log_retire_lock)
// that guard them, per spec.md §5's lock-order rule that append and retire
// never contend for the same lock.
//
// Grounded on disk/wal/log_manager.go (buffering split between append and
// flush) and disk/wal/group_writer.go (the swap-and-commit discipline that
// Append below borrows for its allocate-then-publish critical section).
package logpool

import (
	"fmt"
	"sync"

	"rwl/config"
	"rwl/pmem"
)

// Pool is one open replicated-write-log ring.
type Pool struct {
	pm pmem.Pool

	appendMu sync.Mutex // log_append_lock
	retireMu sync.Mutex // log_retire_lock

	root    PoolRoot
	entries []*LogEntry // indexed by slot; nil where no valid entry lives
}

// Create makes a brand-new pool file sized by cfg (clamped by cfg.Validate)
// and returns it empty, per spec.md §4.A.
func Create(path string, cfg config.Options) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := numLogEntriesFor(cfg.RWLSize)
	rootSize := int64(headerSize) + int64(n)*int64(recordSize)

	pm, err := pmem.Create(path, int64(cfg.RWLSize), rootSize)
	if err != nil {
		return nil, fmt.Errorf("logpool: create: %w", err)
	}

	root := PoolRoot{
		LayoutVersion:   config.RWLPoolVersion,
		PoolSize:        cfg.RWLSize,
		BlockSize:       config.MinWriteAllocSize,
		NumLogEntries:   n,
		FirstFreeEntry:  0,
		FirstValidEntry: 0,
	}

	tx, err := pm.BeginTx()
	if err != nil {
		pm.Close()
		return nil, err
	}
	tx.SetRoot(0, root.marshal())
	if err := tx.Commit(); err != nil {
		pm.Close()
		return nil, fmt.Errorf("logpool: create: writing root: %w", err)
	}

	return &Pool{pm: pm, root: root, entries: make([]*LogEntry, n)}, nil
}

// Open reopens an existing pool file, validating its header against cfg,
// and loads every slot's raw record (without interpreting ring position —
// that is package recovery's job) per spec.md §4.A's "validate layout
// version and block size; reject mismatches".
func Open(path string, cfg config.Options) (*Pool, error) {
	header, err := readHeaderOnly(path)
	if err != nil {
		return nil, fmt.Errorf("logpool: open: %w", err)
	}
	if header.LayoutVersion != config.RWLPoolVersion {
		return nil, ErrLayoutVersionMismatch
	}
	if header.BlockSize != config.MinWriteAllocSize {
		return nil, ErrBlockSizeMismatch
	}

	rootSize := int64(headerSize) + int64(header.NumLogEntries)*int64(recordSize)
	pm, err := pmem.Open(path, rootSize)
	if err != nil {
		return nil, fmt.Errorf("logpool: open: %w", err)
	}

	p := &Pool{pm: pm, root: header, entries: make([]*LogEntry, header.NumLogEntries)}

	raw, err := pm.ReadRoot(headerSize, int(header.NumLogEntries)*recordSize)
	if err != nil {
		pm.Close()
		return nil, fmt.Errorf("logpool: open: reading slot array: %w", err)
	}
	for i := uint32(0); i < header.NumLogEntries; i++ {
		var rec LogEntryRecord
		off := int(i) * recordSize
		if rec.unmarshal(raw[off : off+recordSize]) {
			p.entries[i] = &LogEntry{Record: rec}
		}
	}

	return p, nil
}

func (p *Pool) Close() error { return p.pm.Close() }

func (p *Pool) NumEntries() uint32         { return p.root.NumLogEntries }
func (p *Pool) FirstValidEntry() uint32    { return p.root.FirstValidEntry }
func (p *Pool) FirstFreeEntry() uint32     { return p.root.FirstFreeEntry }
func (p *Pool) BlockSize() uint32          { return p.root.BlockSize }
func (p *Pool) EntryAt(idx uint32) *LogEntry { return p.entries[idx] }

// Pmem exposes the underlying allocator for components (appendpipe, retire)
// that reserve and free data buffers directly.
func (p *Pool) Pmem() pmem.Pool { return p.pm }

func (p *Pool) freeLogEntriesLocked() uint32 {
	n := p.root.NumLogEntries
	used := (p.root.FirstFreeEntry - p.root.FirstValidEntry + n) % n
	return n - 1 - used
}

// FreeLogEntries returns free == N-1-used, invariant 1 of spec.md §8.
func (p *Pool) FreeLogEntries() uint32 {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()
	return p.freeLogEntriesLocked()
}

// Append assigns each record a contiguous slot index starting at
// first_free_entry, writes them and publishes the given buffer reservations
// in one PMEM transaction, and advances first_free_entry — all under the
// append lock, per spec.md §4.F ("slot indices are assigned strictly in the
// order operations appear in the batch" and "commits a PMEM transaction
// that... advances first_free_entry"). Returns the slots assigned, in the
// same order as records.
func (p *Pool) Append(records []LogEntryRecord, publish []pmem.ActionToken) ([]uint32, error) {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	n := uint32(len(records))
	if n == 0 {
		return nil, nil
	}
	if n > config.MaxAllocPerTransaction {
		return nil, ErrBatchTooLarge
	}
	if p.freeLogEntriesLocked() < n {
		return nil, ErrOutOfLogEntries
	}

	indices := make([]uint32, n)
	slot := p.root.FirstFreeEntry
	for i := range records {
		indices[i] = slot
		records[i].EntryIndex = slot
		records[i].Valid = true
		slot = (slot + 1) % p.root.NumLogEntries
	}

	tx, err := p.pm.BeginTx()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, recordSize)
	for i, idx := range indices {
		records[i].marshal(buf)
		tx.SetRoot(slotOffset(idx), buf)
	}
	for _, tok := range publish {
		tx.Publish(tok)
	}
	newHeader := p.root
	newHeader.FirstFreeEntry = slot
	tx.SetRoot(0, newHeader.marshal())

	if err := tx.Commit(); err != nil {
		// spec.md §4.A, §7: any transaction abort during append is fatal;
		// partial publication cannot happen by construction, so there is
		// nothing safe to roll forward from here.
		panic(fmt.Sprintf("logpool: append transaction aborted: %v", err))
	}

	// spec.md §4.F: "if the batch wraps the ring, emit one flush per
	// contiguous span" — the transaction's own commit already fsynced
	// everything, so these are an explicit per-span durability confirmation
	// of the slot array rather than what makes the records durable.
	for _, span := range ContiguousSpans(indices[0], len(indices), p.root.NumLogEntries) {
		if err := p.pm.FlushRoot(slotOffset(span[0]), int(span[1])*recordSize); err != nil {
			panic(fmt.Sprintf("logpool: flushing appended span: %v", err))
		}
	}

	p.root.FirstFreeEntry = slot
	for i, idx := range indices {
		p.entries[idx] = &LogEntry{Record: records[i]}
	}
	return indices, nil
}

// RetirePrefix advances first_valid_entry past the given (already verified
// contiguous, already verified eligible) indices and frees their data
// buffers, per spec.md §4.G.
func (p *Pool) RetirePrefix(indices []uint32, frees []pmem.Handle) error {
	p.retireMu.Lock()
	defer p.retireMu.Unlock()

	if len(indices) == 0 {
		return nil
	}

	tx, err := p.pm.BeginTx()
	if err != nil {
		return err
	}
	newHeader := p.root
	newHeader.FirstValidEntry = (p.root.FirstValidEntry + uint32(len(indices))) % p.root.NumLogEntries
	tx.SetRoot(0, newHeader.marshal())

	if err := tx.Commit(); err != nil {
		panic(fmt.Sprintf("logpool: retire transaction aborted: %v", err))
	}

	p.root.FirstValidEntry = newHeader.FirstValidEntry
	for _, h := range frees {
		p.pm.Free(h)
	}
	for _, idx := range indices {
		p.entries[idx] = nil
	}
	return nil
}

// ContiguousSpans splits a batch of n slots starting at start into spans
// that do not cross the ring's wraparound point, per spec.md §4.F's "if the
// batch wraps the ring, emit one flush per contiguous span".
func ContiguousSpans(start uint32, n int, numEntries uint32) [][2]uint32 {
	if n == 0 {
		return nil
	}
	var spans [][2]uint32
	remaining := uint32(n)
	s := start
	for remaining > 0 {
		untilWrap := numEntries - s
		span := remaining
		if span > untilWrap {
			span = untilWrap
		}
		spans = append(spans, [2]uint32{s, span})
		s = (s + span) % numEntries
		remaining -= span
	}
	return spans
}

func numLogEntriesFor(poolSize uint64) uint32 {
	smallWriteSize := uint64(config.MinWriteAllocSize + config.BlockAllocOverheadBytes + recordSize)
	usable := uint64(float64(poolSize) * config.UsableSizeFraction)
	n := usable / smallWriteSize
	if n > config.MaxLogEntries {
		n = config.MaxLogEntries
	}
	if n < 2 {
		n = 2
	}
	return uint32(n)
}
