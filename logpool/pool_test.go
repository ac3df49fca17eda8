package logpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwl/config"
	"rwl/pmem"
)

func testCfg() config.Options {
	return config.Options{RWLEnabled: true, RWLSize: config.MinPoolSize}
}

func TestPool_CreateStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint32(0), p.FirstFreeEntry())
	assert.Equal(t, uint32(0), p.FirstValidEntry())
	assert.Equal(t, p.NumEntries()-1, p.FreeLogEntries())
}

func TestPool_AppendAdvancesFirstFreeEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)
	defer p.Close()

	tok, h, err := p.Pmem().ReserveBuffer(4096)
	require.NoError(t, err)
	require.NoError(t, p.Pmem().Write(h, 0, []byte("hello")))

	rec := LogEntryRecord{
		Kind:        EntryKindWrite,
		SyncGen:     1,
		ImageOffset: 0,
		WriteBytes:  4096,
		HasData:     true,
		DataHandle:  h,
	}
	indices, err := p.Append([]LogEntryRecord{rec}, []pmem.ActionToken{tok})
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, indices)
	assert.Equal(t, uint32(1), p.FirstFreeEntry())

	entry := p.EntryAt(0)
	require.NotNil(t, entry)
	assert.True(t, entry.Record.Valid)
	assert.Equal(t, uint64(1), entry.Record.SyncGen)
}

func TestPool_AppendRejectsOversizedBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)
	defer p.Close()

	batch := make([]LogEntryRecord, config.MaxAllocPerTransaction+1)
	_, err = p.Append(batch, nil)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestPool_RetirePrefixAdvancesFirstValidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)
	defer p.Close()

	tok, h, err := p.Pmem().ReserveBuffer(4096)
	require.NoError(t, err)
	indices, err := p.Append([]LogEntryRecord{{Kind: EntryKindWrite, HasData: true, DataHandle: h}}, []pmem.ActionToken{tok})
	require.NoError(t, err)

	require.NoError(t, p.RetirePrefix(indices, []pmem.Handle{h}))
	assert.Equal(t, uint32(1), p.FirstValidEntry())
	assert.Nil(t, p.EntryAt(0))
}

func TestPool_OpenReloadsPersistedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)

	tok, h, err := p.Pmem().ReserveBuffer(4096)
	require.NoError(t, err)
	_, err = p.Append([]LogEntryRecord{{Kind: EntryKindWrite, SyncGen: 7, HasData: true, DataHandle: h}}, []pmem.ActionToken{tok})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := Open(path, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint32(1), reopened.FirstFreeEntry())
	entry := reopened.EntryAt(0)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(7), entry.Record.SyncGen)
}

func TestPool_OpenRejectsBlockSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := testCfg()
	cfg.RWLPath = path

	p, err := Create(path, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// corrupt the persisted block size by reopening the raw pmem pool and
	// overwriting the header.
	pm, err := pmem.Open(path, int64(headerSize)+int64(p.NumEntries())*int64(recordSize))
	require.NoError(t, err)
	bad := PoolRoot{LayoutVersion: config.RWLPoolVersion, BlockSize: config.MinWriteAllocSize + 1, NumLogEntries: p.NumEntries()}
	tx, err := pm.BeginTx()
	require.NoError(t, err)
	tx.SetRoot(0, bad.marshal())
	require.NoError(t, tx.Commit())
	require.NoError(t, pm.Close())

	_, err = Open(path, cfg)
	assert.ErrorIs(t, err, ErrBlockSizeMismatch)
}

func TestContiguousSpans_SplitsOnWrap(t *testing.T) {
	spans := ContiguousSpans(8, 5, 10)
	assert.Equal(t, [][2]uint32{{8, 2}, {0, 3}}, spans)
}

func TestContiguousSpans_NoWrap(t *testing.T) {
	spans := ContiguousSpans(2, 3, 10)
	assert.Equal(t, [][2]uint32{{2, 3}}, spans)
}
