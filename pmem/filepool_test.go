package pmem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *FilePool {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	p, err := Create(path, 1<<20, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestFilePool_ReserveWriteReadPublish(t *testing.T) {
	p := newTestPool(t)

	tok, h, err := p.ReserveBuffer(128)
	require.NoError(t, err)

	payload := []byte("replicated write log")
	require.NoError(t, p.Write(h, 0, payload))

	tx, err := p.BeginTx()
	require.NoError(t, err)
	tx.Publish(tok)
	require.NoError(t, tx.Commit())

	got, err := p.Read(h, 0, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFilePool_CancelReturnsSpace(t *testing.T) {
	p := newTestPool(t)

	before := p.AvailableBytes()
	tok, _, err := p.ReserveBuffer(4096)
	require.NoError(t, err)
	assert.Equal(t, before-4096, p.AvailableBytes())

	p.Cancel(tok)
	assert.Equal(t, before, p.AvailableBytes())
}

func TestFilePool_AbortCancelsPublish(t *testing.T) {
	p := newTestPool(t)

	before := p.AvailableBytes()
	tok, _, err := p.ReserveBuffer(4096)
	require.NoError(t, err)

	tx, err := p.BeginTx()
	require.NoError(t, err)
	tx.Publish(tok)

	aborted := false
	tx.OnAbort(func() { aborted = true })
	tx.Abort()

	assert.True(t, aborted)
	assert.Equal(t, before, p.AvailableBytes())
}

func TestFilePool_OutOfSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	p, err := Create(path, 8192, 4096)
	require.NoError(t, err)
	defer p.Close()

	_, _, err = p.ReserveBuffer(8192)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestFilePool_MarkAllocatedExcludesFromFreeList(t *testing.T) {
	p := newTestPool(t)

	before := p.AvailableBytes()
	h := Handle{Offset: p.rootSize, Size: 1024}
	p.MarkAllocated(h)
	assert.Equal(t, before-1024, p.AvailableBytes())
}
