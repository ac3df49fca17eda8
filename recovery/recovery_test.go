package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwl/config"
	"rwl/intervalmap"
	"rwl/logpool"
	"rwl/pmem"
	"rwl/syncpoint"
)

func newTestPool(t *testing.T) *logpool.Pool {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := config.Options{RWLEnabled: true, RWLPath: path, RWLSize: config.MinPoolSize}
	p, err := logpool.Create(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func appendRecord(t *testing.T, p *logpool.Pool, rec logpool.LogEntryRecord) uint32 {
	var publish []pmem.ActionToken
	if rec.HasData {
		tok, h, err := p.Pmem().ReserveBuffer(4096)
		require.NoError(t, err)
		rec.DataHandle = h
		publish = []pmem.ActionToken{tok}
	}
	indices, err := p.Append([]logpool.LogEntryRecord{rec}, publish)
	require.NoError(t, err)
	return indices[0]
}

func TestRecover_ConfirmedWritesLandInMap(t *testing.T) {
	pool := newTestPool(t)
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 1, ImageOffset: 0, WriteBytes: 4096, HasData: true})
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindSyncPoint, SyncGen: 1})

	graph := syncpoint.NewGraph()
	var m intervalmap.Map
	require.NoError(t, Recover(pool, graph, &m))

	res := m.Find(0, 4096)
	require.Len(t, res, 1)
	assert.NotNil(t, res[0].LogEntry)
	assert.True(t, res[0].LogEntry.Completed())

	sp := graph.Find(1)
	require.NotNil(t, sp)
	assert.True(t, sp.SelfPersisted.Fired())
}

func TestRecover_UnsequencedTrailingWriteIsDiscarded(t *testing.T) {
	pool := newTestPool(t)
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 1, ImageOffset: 0, WriteBytes: 4096, HasData: true})
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindSyncPoint, SyncGen: 1})
	danglingIdx := appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 2, ImageOffset: 8192, WriteBytes: 4096, HasData: true})

	graph := syncpoint.NewGraph()
	var m intervalmap.Map
	require.NoError(t, Recover(pool, graph, &m))

	res := m.Find(8192, 12288)
	require.Len(t, res, 1)
	assert.Nil(t, res[0].LogEntry, "write belonging to an unconfirmed sync point must not be replayed")

	dangling := pool.EntryAt(danglingIdx)
	assert.True(t, dangling.Completed())
	assert.True(t, dangling.Flushed(), "discarded write must be marked flushed so it can retire without touching downstream")
}

// TestRecover_SequencedTrailingWriteIsKeptAndFabricated exercises spec.md
// §8 scenario S4: W(gen=3), W(gen=3), SP(gen=3), W(gen=4), crash before
// SP(gen=4). The gen=4 write was individually sequenced and acknowledged
// durable at append time (the default persist-on-write mode), so recovery
// must fabricate the missing SP(gen=4) and keep all three writes on the
// dirty list rather than discarding the gen=4 one.
func TestRecover_SequencedTrailingWriteIsKeptAndFabricated(t *testing.T) {
	pool := newTestPool(t)
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 3, WriteSeq: 1, Sequenced: true, ImageOffset: 0, WriteBytes: 4096, HasData: true})
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 3, WriteSeq: 2, Sequenced: true, ImageOffset: 4096, WriteBytes: 4096, HasData: true})
	appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindSyncPoint, SyncGen: 3})
	danglingIdx := appendRecord(t, pool, logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 4, WriteSeq: 3, Sequenced: true, ImageOffset: 8192, WriteBytes: 4096, HasData: true})

	graph := syncpoint.NewGraph()
	var m intervalmap.Map
	require.NoError(t, Recover(pool, graph, &m))

	res := m.Find(8192, 12288)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].LogEntry, "a sequenced write already acknowledged durable must not be discarded")
	assert.Equal(t, uint32(danglingIdx), res[0].LogEntry.Record.EntryIndex)

	dangling := pool.EntryAt(danglingIdx)
	assert.True(t, dangling.Completed())
	assert.False(t, dangling.Flushed(), "kept write must still be flushed downstream by the retirer, not treated as already handled")

	sp := graph.Find(4)
	require.NotNil(t, sp, "missing sync point must be fabricated so the retirer's bookkeeping stays consistent")
	assert.True(t, sp.SelfPersisted.Fired())

	// The two writes belonging to the confirmed SP(gen=3) are unaffected.
	res = m.Find(0, 8192)
	require.Len(t, res, 2)
	assert.NotNil(t, res[0].LogEntry)
	assert.NotNil(t, res[1].LogEntry)
}

func TestRecover_EmptyPoolIsANoOp(t *testing.T) {
	pool := newTestPool(t)
	graph := syncpoint.NewGraph()
	var m intervalmap.Map
	require.NoError(t, Recover(pool, graph, &m))
	assert.Equal(t, 0, m.Len())
}
