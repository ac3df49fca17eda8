package appendpipe

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwl/config"
	"rwl/logpool"
)

func newTestPool(t *testing.T) *logpool.Pool {
	path := filepath.Join(t.TempDir(), "pool.rwl")
	cfg := config.Options{RWLEnabled: true, RWLPath: path, RWLSize: config.MinPoolSize}
	p, err := logpool.Create(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPipe_SubmitAppendsAndReturnsDistinctIndices(t *testing.T) {
	pool := newTestPool(t)
	pipe := New(pool)

	var wg sync.WaitGroup
	indices := make([]uint32, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := pipe.Submit(logpool.LogEntryRecord{Kind: logpool.EntryKindWrite, SyncGen: 1}, nil)
			require.NoError(t, err)
			indices[i] = idx
		}(i)
	}
	wg.Wait()

	seen := map[uint32]bool{}
	for _, idx := range indices {
		assert.False(t, seen[idx], "index %d assigned twice", idx)
		seen[idx] = true
	}
}

func TestPipe_SubmitFlushesOnTimeoutWithoutFullBatch(t *testing.T) {
	pool := newTestPool(t)
	pipe := New(pool)

	start := time.Now()
	idx, err := pipe.Submit(logpool.LogEntryRecord{Kind: logpool.EntryKindWrite}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPipe_LaneCreditsAreBounded(t *testing.T) {
	pool := newTestPool(t)
	pipe := New(pool)

	ctx := context.Background()
	for i := 0; i < config.LaneCount; i++ {
		require.NoError(t, pipe.AcquireLane(ctx))
	}

	ctx2, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := pipe.AcquireLane(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pipe.ReleaseLane()
	require.NoError(t, pipe.AcquireLane(ctx))
}

func TestPipe_ReleaseWithoutAcquirePanics(t *testing.T) {
	pool := newTestPool(t)
	pipe := New(pool)
	assert.Panics(t, func() { pipe.ReleaseLane() })
}
