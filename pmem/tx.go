package pmem

import "fmt"

type rootWrite struct {
	off  int
	data []byte
}

// fileTx is the FilePool's transaction. It is intentionally simple: root
// writes are buffered and applied with a single WriteAt+Sync on Commit, and
// publishes just drop the corresponding reservation from the pending map —
// by the time Commit is called the caller (appendpipe) has already flushed
// the buffer's own bytes, so the transaction only needs to make the root
// update and the bookkeeping change atomic with each other.
type fileTx struct {
	pool       *FilePool
	rootWrites []rootWrite
	publishes  []ActionToken
	onCommit   []func()
	onAbort    []func()
	resolved   bool
}

var _ Tx = &fileTx{}

func (t *fileTx) SetRoot(off int, data []byte) {
	t.rootWrites = append(t.rootWrites, rootWrite{off: off, data: append([]byte(nil), data...)})
}

func (t *fileTx) Publish(a ActionToken) {
	t.publishes = append(t.publishes, a)
}

func (t *fileTx) OnCommit(hook func()) {
	t.onCommit = append(t.onCommit, hook)
}

func (t *fileTx) OnAbort(hook func()) {
	t.onAbort = append(t.onAbort, hook)
}

func (t *fileTx) Commit() error {
	if t.resolved {
		panic("pmem: transaction already resolved")
	}
	t.resolved = true

	p := t.pool
	for _, rw := range t.rootWrites {
		if _, err := p.f.WriteAt(rw.data, int64(rw.off)); err != nil {
			t.rollbackPending()
			for _, h := range t.onAbort {
				h()
			}
			return fmt.Errorf("pmem: commit root write: %w", err)
		}
	}
	if err := p.f.Sync(); err != nil {
		t.rollbackPending()
		for _, h := range t.onAbort {
			h()
		}
		return fmt.Errorf("pmem: commit sync: %w", err)
	}

	p.mu.Lock()
	for _, tok := range t.publishes {
		delete(p.pending, tok)
	}
	p.mu.Unlock()

	for _, h := range t.onCommit {
		h()
	}
	return nil
}

func (t *fileTx) Abort() {
	if t.resolved {
		panic("pmem: transaction already resolved")
	}
	t.resolved = true

	t.rollbackPending()
	for _, h := range t.onAbort {
		h()
	}
}

func (t *fileTx) rollbackPending() {
	p := t.pool
	p.mu.Lock()
	for _, tok := range t.publishes {
		if pa, ok := p.pending[tok]; ok {
			p.alloc.freeExtent(pa.offset, pa.size)
			delete(p.pending, tok)
		}
	}
	p.mu.Unlock()
}
