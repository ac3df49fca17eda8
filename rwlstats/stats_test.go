package rwlstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_SnapshotComputesAverages(t *testing.T) {
	s := New()
	s.Incr("writes_completed", 3)
	s.Avg("flush_batch_size", 10)
	s.Avg("flush_batch_size", 20)
	s.Gauge("dirty_fraction", 0.42)

	snap := s.Snapshot()
	assert.EqualValues(t, 3, snap.Counts["writes_completed"])
	assert.Equal(t, 15.0, snap.Avgs["flush_batch_size"])
	assert.Equal(t, 0.42, snap.Gauges["dirty_fraction"])
}

func TestStats_EmptyKeyIsZeroValue(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.Zero(t, snap.Counts["missing"])
	assert.Zero(t, snap.Avgs["missing"])
}
