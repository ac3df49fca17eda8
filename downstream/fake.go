package downstream

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory Cache backed by a sparse map of fixed blocks, for
// tests and for the admin CLI. It is not a performance
// model of any real image store — just something retire and rwlog can
// drain into and read back from to check correctness.
type Fake struct {
	mu     sync.Mutex
	blocks map[uint64][]byte
	closed bool
}

const fakeBlockSize = 4096

// NewFake returns an empty Fake image. It has no fixed size: blocks are
// materialized on first write.
func NewFake() *Fake {
	return &Fake{blocks: make(map[uint64][]byte)}
}

func (f *Fake) Init(ctx context.Context) error { return nil }

func (f *Fake) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) Read(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("downstream: fake cache is shut down")
	}

	out := make([]byte, length)
	f.forEachBlock(offset, length, func(blockOff uint64, dst []byte, blockRel int) {
		if b, ok := f.blocks[blockOff]; ok {
			copy(dst, b[blockRel:blockRel+len(dst)])
		}
	}, out)
	return out, nil
}

func (f *Fake) Write(ctx context.Context, offset uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("downstream: fake cache is shut down")
	}
	f.forEachBlock(offset, uint32(len(data)), func(blockOff uint64, src []byte, blockRel int) {
		b := f.blockLocked(blockOff)
		copy(b[blockRel:blockRel+len(src)], src)
	}, data)
	return nil
}

func (f *Fake) WriteSame(ctx context.Context, offset uint64, length uint32, pattern []byte) error {
	if len(pattern) == 0 {
		return fmt.Errorf("downstream: empty write-same pattern")
	}
	data := make([]byte, length)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return f.Write(ctx, offset, data)
}

func (f *Fake) CompareAndWrite(ctx context.Context, offset uint64, cmp, data []byte) error {
	current, err := f.Read(ctx, offset, uint32(len(cmp)))
	if err != nil {
		return err
	}
	if !bytes.Equal(current, cmp) {
		return fmt.Errorf("downstream: compare-and-write mismatch at offset %d", offset)
	}
	return f.Write(ctx, offset, data)
}

func (f *Fake) Discard(ctx context.Context, offset uint64, length uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("downstream: fake cache is shut down")
	}
	zero := make([]byte, fakeBlockSize)
	f.forEachBlock(offset, length, func(blockOff uint64, dst []byte, blockRel int) {
		b := f.blockLocked(blockOff)
		copy(b[blockRel:blockRel+len(dst)], zero[:len(dst)])
	}, make([]byte, length))
	return nil
}

func (f *Fake) Flush(ctx context.Context) error { return nil }

func (f *Fake) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = make(map[uint64][]byte)
	return nil
}

func (f *Fake) blockLocked(blockOff uint64) []byte {
	b, ok := f.blocks[blockOff]
	if !ok {
		b = make([]byte, fakeBlockSize)
		f.blocks[blockOff] = b
	}
	return b
}

// forEachBlock walks [offset, offset+len(buf)) one fakeBlockSize-aligned
// block at a time, handing each call the block's base offset, the
// corresponding slice of buf, and the byte offset within the block the
// slice starts at.
func (f *Fake) forEachBlock(offset uint64, length uint32, fn func(blockOff uint64, slice []byte, blockRel int), buf []byte) {
	end := offset + uint64(length)
	cur := offset
	bufOff := 0
	for cur < end {
		blockOff := (cur / fakeBlockSize) * fakeBlockSize
		blockRel := int(cur - blockOff)
		n := fakeBlockSize - blockRel
		if remain := int(end - cur); n > remain {
			n = remain
		}
		fn(blockOff, buf[bufOff:bufOff+n], blockRel)
		cur += uint64(n)
		bufOff += n
	}
}

// BlockOffsets returns the offsets of every block the Fake has ever
// materialized, sorted ascending, for tests asserting on write shape.
func (f *Fake) BlockOffsets() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offs := make([]uint64, 0, len(f.blocks))
	for off := range f.blocks {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}
