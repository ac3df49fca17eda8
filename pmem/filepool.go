package pmem

import (
	"fmt"
	"os"
	"sync"
)

// FilePool is the reference Pool implementation: a single file holding a
// fixed-size root region followed by a byte-addressable arena. It plays the
// same role here that disk.DiskManager plays for the teacher's paged
// storage, generalized from fixed pages to arbitrary-length buffers the way
// rsc-tmp's pmem.Mem generalizes a paged file into a patchable byte span.
type FilePool struct {
	mu       sync.Mutex
	f        *os.File
	rootSize int64
	size     int64
	alloc    *extentAllocator
	pending  map[ActionToken]*pendingAction
	nextTok  uint64
	closed   bool
}

type pendingAction struct {
	offset, size int64
}

var _ Pool = &FilePool{}

// Create makes a new pool file of the given total size, with rootSize bytes
// reserved at the front for the root object.
func Create(path string, size, rootSize int64) (*FilePool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmem: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: truncate %s: %w", path, err)
	}
	return &FilePool{
		f:        f,
		rootSize: rootSize,
		size:     size,
		alloc:    newExtentAllocator(rootSize, size-rootSize),
		pending:  map[ActionToken]*pendingAction{},
	}, nil
}

// Open reopens an existing pool file. The allocator starts with the whole
// arena marked free; callers that are replaying an existing log (see
// package recovery) must call MarkAllocated for every live buffer before
// allowing new reservations, since a pool file carries no separate
// allocation bitmap of its own.
func Open(path string, rootSize int64) (*FilePool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: stat %s: %w", path, err)
	}
	return &FilePool{
		f:        f,
		rootSize: rootSize,
		size:     st.Size(),
		alloc:    newExtentAllocator(rootSize, st.Size()-rootSize),
		pending:  map[ActionToken]*pendingAction{},
	}, nil
}

func (p *FilePool) ReserveBuffer(size int) (ActionToken, Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, Handle{}, ErrClosed
	}

	off, ok := p.alloc.alloc(int64(size))
	if !ok {
		return 0, Handle{}, ErrOutOfSpace
	}

	p.nextTok++
	tok := ActionToken(p.nextTok)
	p.pending[tok] = &pendingAction{offset: off, size: int64(size)}
	return tok, Handle{Offset: off, Size: int64(size)}, nil
}

func (p *FilePool) Cancel(tok ActionToken) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.pending[tok]
	if !ok {
		return
	}
	p.alloc.freeExtent(pa.offset, pa.size)
	delete(p.pending, tok)
}

// Publish is a convenience that wraps a batch of reservations in their own
// transaction. The append pipeline normally folds publishing into the
// append transaction itself via Tx.Publish instead of calling this.
func (p *FilePool) Publish(actions []ActionToken) error {
	tx, err := p.BeginTx()
	if err != nil {
		return err
	}
	for _, a := range actions {
		tx.Publish(a)
	}
	return tx.Commit()
}

func (p *FilePool) Write(h Handle, off int, data []byte) error {
	if int64(off+len(data)) > h.Size {
		return fmt.Errorf("pmem: write %d bytes at %d overruns handle of size %d", len(data), off, h.Size)
	}
	_, err := p.f.WriteAt(data, h.Offset+int64(off))
	return err
}

func (p *FilePool) Read(h Handle, off, n int) ([]byte, error) {
	if int64(off+n) > h.Size {
		return nil, fmt.Errorf("pmem: read %d bytes at %d overruns handle of size %d", n, off, h.Size)
	}
	buf := make([]byte, n)
	if _, err := p.f.ReadAt(buf, h.Offset+int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *FilePool) Free(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alloc.freeExtent(h.Offset, h.Size)
	return nil
}

// MarkAllocated removes h from the free list without any matching
// reservation token. Used only during recovery, before the pool is opened
// for new writes.
func (p *FilePool) MarkAllocated(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alloc.removeExtent(h.Offset, h.Size)
}

// FlushRange is a best-effort range flush. The os package exposes no
// range-fsync primitive, so this degrades to a full Sync, matching the
// granularity disk.DiskManager already settles for on every WritePage.
func (p *FilePool) FlushRange(h Handle, off, n int) error {
	return p.f.Sync()
}

func (p *FilePool) Drain() error {
	return p.f.Sync()
}

// FlushRoot is, like FlushRange, a best-effort range flush that degrades to
// a full Sync for the same reason: os exposes no range-fsync primitive.
func (p *FilePool) FlushRoot(off, n int) error {
	return p.f.Sync()
}

func (p *FilePool) Size() int64 {
	return p.size
}

func (p *FilePool) AvailableBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc.availableBytes()
}

func (p *FilePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.f.Close()
}

func (p *FilePool) BeginTx() (Tx, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return &fileTx{pool: p}, nil
}

func (p *FilePool) readRoot(off, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := p.f.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRoot exposes the root region for callers (logpool) that need to parse
// the persistent header on open.
func (p *FilePool) ReadRoot(off, n int) ([]byte, error) {
	return p.readRoot(off, n)
}
